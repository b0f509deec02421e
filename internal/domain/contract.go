// Package domain holds the core types shared across the price update
// pipeline: futures contracts, OHLCV bars, price series, and sampling
// frequencies.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VirtualContractDate is the synthetic delivery date assigned to virtual
// instruments, which map onto a perpetual proxy series instead of a real
// exchange-listed contract.
const VirtualContractDate = "21000100"

// virtualPrefix marks instrument codes that have no exchange listing.
const virtualPrefix = "V_"

// Contract identifies one futures instrument plus delivery date. It is
// immutable once constructed and is the key for all price operations.
type Contract struct {
	InstrumentCode string
	// DateStr is the contract date as yyyymmdd, with dd "00" when only the
	// delivery month is known.
	DateStr string
}

// NewContract creates a Contract for the given instrument code and contract
// date string.
func NewContract(instrumentCode, dateStr string) Contract {
	return Contract{InstrumentCode: instrumentCode, DateStr: dateStr}
}

// VirtualContract returns the perpetual proxy contract for a virtual
// instrument code.
func VirtualContract(instrumentCode string) Contract {
	return Contract{InstrumentCode: instrumentCode, DateStr: VirtualContractDate}
}

// IsVirtualInstrument reports whether the instrument code denotes a virtual
// instrument rather than a listed future.
func IsVirtualInstrument(instrumentCode string) bool {
	return strings.HasPrefix(instrumentCode, virtualPrefix)
}

// IsVirtual reports whether the contract belongs to a virtual instrument.
func (c Contract) IsVirtual() bool {
	return IsVirtualInstrument(c.InstrumentCode)
}

// Key returns a stable identity string for the contract, used to key
// per-contract state such as the broker last-error map. It deliberately does
// not depend on any vendor object identity.
func (c Contract) Key() string {
	return c.InstrumentCode + "/" + c.DateStr
}

func (c Contract) String() string {
	return c.Key()
}

// Year returns the delivery year encoded in the contract date.
func (c Contract) Year() (int, error) {
	if len(c.DateStr) < 4 {
		return 0, fmt.Errorf("contract date %q too short", c.DateStr)
	}
	return strconv.Atoi(c.DateStr[:4])
}

// MonthLetter returns the exchange month letter (F=Jan .. Z=Dec) for the
// contract's delivery month.
func (c Contract) MonthLetter() (string, error) {
	letters := []string{"F", "G", "H", "J", "K", "M", "N", "Q", "U", "V", "X", "Z"}
	if len(c.DateStr) < 6 {
		return "", fmt.Errorf("contract date %q too short", c.DateStr)
	}
	month, err := strconv.Atoi(c.DateStr[4:6])
	if err != nil || month < 1 || month > 12 {
		return "", fmt.Errorf("contract date %q has invalid month", c.DateStr)
	}
	return letters[month-1], nil
}

// IsExpired approximates expiry by comparing the delivery month against now:
// a contract whose delivery month has fully passed is considered expired.
func (c Contract) IsExpired(now time.Time) bool {
	if len(c.DateStr) < 6 {
		return false
	}
	year, err := strconv.Atoi(c.DateStr[:4])
	if err != nil {
		return false
	}
	month, err := strconv.Atoi(c.DateStr[4:6])
	if err != nil || month < 1 || month > 12 {
		return false
	}
	endOfDeliveryMonth := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, now.Location())
	return now.After(endOfDeliveryMonth) || now.Equal(endOfDeliveryMonth)
}
