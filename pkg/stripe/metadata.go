package stripe

import (
	"fmt"
	"strconv"
)

// Metadata keys carried on every intent and checkout session.
const (
	metaCauseID     = "causeId"
	metaDonorID     = "donorId"
	metaNetAmount   = "netAmount"
	metaPlatformFee = "platformFee"
	metaIsAnonymous = "isAnonymous"
	metaMessage     = "message"
)

// DonationMetadata is everything needed to rebuild a donation from the gateway alone.
// The gateway only stores flat string maps, so it is converted at this boundary.
type DonationMetadata struct {
	CauseID     string
	DonorID     string
	NetAmount   int64
	PlatformFee int64
	IsAnonymous bool
	Message     string
}

// HasDonation reports whether md was written by this platform.
func HasDonation(md map[string]string) bool {
	return md[metaCauseID] != ""
}

// Map renders m as gateway metadata.
func (m DonationMetadata) Map() map[string]string {
	out := map[string]string{
		metaCauseID:     m.CauseID,
		metaDonorID:     m.DonorID,
		metaNetAmount:   strconv.FormatInt(m.NetAmount, 10),
		metaPlatformFee: strconv.FormatInt(m.PlatformFee, 10),
		metaIsAnonymous: strconv.FormatBool(m.IsAnonymous),
	}
	if m.Message != "" {
		out[metaMessage] = m.Message
	}
	return out
}

// ParseDonationMetadata reads metadata written by Map.
func ParseDonationMetadata(md map[string]string) (DonationMetadata, error) {
	m := DonationMetadata{
		CauseID: md[metaCauseID],
		DonorID: md[metaDonorID],
		Message: md[metaMessage],
	}
	if m.CauseID == "" {
		return m, fmt.Errorf("metadata: missing %s", metaCauseID)
	}
	if m.DonorID == "" {
		return m, fmt.Errorf("metadata: missing %s", metaDonorID)
	}
	var err error
	if m.NetAmount, err = strconv.ParseInt(md[metaNetAmount], 10, 64); err != nil {
		return m, fmt.Errorf("metadata: %s: %w", metaNetAmount, err)
	}
	if m.PlatformFee, err = strconv.ParseInt(md[metaPlatformFee], 10, 64); err != nil {
		return m, fmt.Errorf("metadata: %s: %w", metaPlatformFee, err)
	}
	if v, ok := md[metaIsAnonymous]; ok && v != "" {
		if m.IsAnonymous, err = strconv.ParseBool(v); err != nil {
			return m, fmt.Errorf("metadata: %s: %w", metaIsAnonymous, err)
		}
	}
	return m, nil
}
