package signer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const domainType = "EIP712Domain"

// SignTypedData returns the EIP-712 signature of td. Callers may omit the
// EIP712Domain type; it is rebuilt from the populated domain fields.
func (s *Signer) SignTypedData(td apitypes.TypedData) ([]byte, error) {
	digest, err := TypedDataHash(td)
	if err != nil {
		return nil, err
	}
	return s.signDigest(digest)
}

// TypedDataHash returns keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func TypedDataHash(td apitypes.TypedData) ([]byte, error) {
	if td.PrimaryType == "" {
		return nil, fmt.Errorf("typed data: missing primaryType")
	}
	if _, ok := td.Types[td.PrimaryType]; !ok {
		return nil, fmt.Errorf("typed data: primary type %q not declared", td.PrimaryType)
	}
	td.Types = withDomainType(td.Types, td.Domain)

	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("typed data: %w", err)
	}
	return digest, nil
}

// RecoverTypedData returns the address that produced an EIP-712 signature.
func RecoverTypedData(td apitypes.TypedData, sig []byte) (common.Address, error) {
	digest, err := TypedDataHash(td)
	if err != nil {
		return common.Address{}, err
	}
	return recoverDigest(digest, sig)
}

// StripDomainType returns types without the EIP712Domain entry.
func StripDomainType(types apitypes.Types) apitypes.Types {
	out := make(apitypes.Types, len(types))
	for name, fields := range types {
		if name != domainType {
			out[name] = fields
		}
	}
	return out
}

// withDomainType returns a copy of types whose EIP712Domain entry lists the
// populated domain fields in canonical order.
func withDomainType(types apitypes.Types, d apitypes.TypedDataDomain) apitypes.Types {
	out := StripDomainType(types)

	var fields []apitypes.Type
	if d.Name != "" {
		fields = append(fields, apitypes.Type{Name: "name", Type: "string"})
	}
	if d.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	if d.ChainId != nil {
		fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if d.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if d.Salt != "" {
		fields = append(fields, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	out[domainType] = fields
	return out
}
