package streams

import (
	"strings"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// bandIII lists the Band III DAB+ allocations in ascending frequency.
var bandIII = []models.DabChannel{
	{ID: "5A", Frequency: 174.928, Label: "Channel 5A"},
	{ID: "5B", Frequency: 176.640, Label: "Channel 5B"},
	{ID: "5C", Frequency: 178.352, Label: "Channel 5C"},
	{ID: "5D", Frequency: 180.064, Label: "Channel 5D"},
	{ID: "6A", Frequency: 181.936, Label: "Channel 6A"},
	{ID: "6B", Frequency: 183.648, Label: "Channel 6B"},
	{ID: "6C", Frequency: 185.360, Label: "Channel 6C"},
	{ID: "6D", Frequency: 187.072, Label: "Channel 6D"},
	{ID: "7A", Frequency: 188.928, Label: "Channel 7A"},
	{ID: "7B", Frequency: 190.640, Label: "Channel 7B"},
	{ID: "7C", Frequency: 192.352, Label: "Channel 7C"},
	{ID: "7D", Frequency: 194.064, Label: "Channel 7D"},
	{ID: "8A", Frequency: 195.936, Label: "Channel 8A"},
	{ID: "8B", Frequency: 197.648, Label: "Channel 8B"},
	{ID: "8C", Frequency: 199.360, Label: "Channel 8C"},
	{ID: "8D", Frequency: 201.072, Label: "Channel 8D"},
	{ID: "9A", Frequency: 202.928, Label: "Channel 9A"},
	{ID: "9B", Frequency: 204.640, Label: "Channel 9B"},
	{ID: "9C", Frequency: 206.352, Label: "Channel 9C"},
	{ID: "9D", Frequency: 208.064, Label: "Channel 9D"},
	{ID: "10A", Frequency: 209.936, Label: "Channel 10A"},
	{ID: "10B", Frequency: 211.648, Label: "Channel 10B"},
	{ID: "10C", Frequency: 213.360, Label: "Channel 10C"},
	{ID: "10D", Frequency: 215.072, Label: "Channel 10D"},
	{ID: "11A", Frequency: 216.928, Label: "Channel 11A"},
	{ID: "11B", Frequency: 218.640, Label: "Channel 11B"},
	{ID: "11C", Frequency: 220.352, Label: "Channel 11C"},
	{ID: "11D", Frequency: 222.064, Label: "Channel 11D"},
	{ID: "12A", Frequency: 223.936, Label: "Channel 12A"},
	{ID: "12B", Frequency: 225.648, Label: "Channel 12B"},
	{ID: "12C", Frequency: 227.360, Label: "Channel 12C"},
	{ID: "12D", Frequency: 229.072, Label: "Channel 12D"},
	{ID: "13A", Frequency: 230.784, Label: "Channel 13A"},
	{ID: "13B", Frequency: 232.496, Label: "Channel 13B"},
	{ID: "13C", Frequency: 234.208, Label: "Channel 13C"},
	{ID: "13D", Frequency: 235.776, Label: "Channel 13D"},
	{ID: "13E", Frequency: 237.488, Label: "Channel 13E"},
	{ID: "13F", Frequency: 239.200, Label: "Channel 13F"},
}

// DefaultScanChannels are the blocks scanned when no list is given.
var DefaultScanChannels = []string{"9A", "9B", "9C"}

var channelIndex = func() map[string]models.DabChannel {
	m := make(map[string]models.DabChannel, len(bandIII))
	for _, c := range bandIII {
		m[c.ID] = c
	}
	return m
}()

// Channels returns a copy of the channel table.
func Channels() []models.DabChannel {
	return append([]models.DabChannel(nil), bandIII...)
}

// LookupChannel finds a channel by code, case-insensitively.
func LookupChannel(id string) (models.DabChannel, bool) {
	c, ok := channelIndex[strings.ToUpper(strings.TrimSpace(id))]
	return c, ok
}
