package main

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

var weiPerEther = big.NewInt(params.Ether)

// parseEther parses a decimal ether amount ("0.05") into wei. A "wei"
// suffix takes the integer as wei.
func parseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if w, ok := strings.CutSuffix(s, "wei"); ok {
		v, ok := new(big.Int).SetString(strings.TrimSpace(w), 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("%w: invalid wei amount %q", errUsage, s)
		}
		return v, nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid ether amount %q", errUsage, s)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	if !r.IsInt() {
		return nil, fmt.Errorf("%w: %q has more than 18 decimals", errUsage, s)
	}
	return new(big.Int).Set(r.Num()), nil
}

func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(wei, weiPerEther).FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func parseItemID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid item id %q", errUsage, s)
	}
	return id, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errUsage, s)
	}
	return common.HexToAddress(s), nil
}
