// Package band maps spot frequencies to amateur bands and names the
// identifiers shared by the filter UI and the overlay subsystem.
package band

import (
	"strconv"
	"strings"
)

// Band identifiers use the meters numbering (20 means 20m). Two values are
// reserved: Unknown for frequencies outside every known range and ClearAll
// for the UI's clear-all control, which the store treats as a no-op.
const (
	Unknown  = 99
	ClearAll = 9999
)

// Known lists every band a filter set can hold, in descending wavelength.
var Known = []int{160, 80, 60, 40, 30, 20, 17, 15, 12, 10, 6}

type frequencyRange struct {
	band    int
	low, hi int // kHz, inclusive
}

// HF/6m sub-band boundaries, kHz.
var ranges = []frequencyRange{
	{160, 1800, 2000},
	{80, 3500, 4000},
	{60, 5330, 5410},
	{40, 7000, 7300},
	{30, 10100, 10150},
	{20, 14000, 14350},
	{17, 18068, 18168},
	{15, 21000, 21450},
	{12, 24890, 24990},
	{10, 28000, 29700},
	{6, 50000, 54000},
}

// FromFrequency derives the band from a wire-format kHz frequency string
// ("28075.6"). Only the integer part is considered. Frequencies outside all
// known ranges, and strings that do not start with an integer, map to
// Unknown.
func FromFrequency(freqKHz string) int {
	intPart := freqKHz
	if i := strings.IndexByte(freqKHz, '.'); i >= 0 {
		intPart = freqKHz[:i]
	}
	khz, err := strconv.Atoi(strings.TrimSpace(intPart))
	if err != nil {
		return Unknown
	}
	for _, r := range ranges {
		if khz >= r.low && khz <= r.hi {
			return r.band
		}
	}
	return Unknown
}

// Name returns the display name for a band identifier ("20m").
func Name(band int) string {
	if band == Unknown {
		return "unknown"
	}
	return strconv.Itoa(band) + "m"
}
