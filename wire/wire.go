// Package wire tokenizes and renders the herd's line protocol: IAMAT,
// WHATSAT, and AT. It has no knowledge of storage, flooding, or
// networking, only the textual shape of the three commands and the
// canonical AT line reused for client replies and peer propagation.
package wire

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Command names as they appear at the start of a line.
const (
	CmdIAMAT   = "IAMAT"
	CmdWHATSAT = "WHATSAT"
	CmdAT      = "AT"
)

var coordsRe = regexp.MustCompile(`^([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)$`)

// Record is the canonical AT record: the parsed and the verbatim-text
// form of every field, so that re-emission never re-renders (and so
// re-rounds) a value the herd did not originate.
type Record struct {
	OriginServer string
	TimeSkewText string
	TimeSkew     float64
	ClientID     string
	LatText      string
	LonText      string
	Lat          float64
	Lon          float64
	TimestampText string
	Timestamp     float64
	Raw           string // the full "AT ..." line, no trailing newline
}

// FormatSkew renders a time skew with an explicit sign and nine
// fractional digits, enough precision to distinguish sub-millisecond
// events between server clocks.
func FormatSkew(skew float64) string {
	return fmt.Sprintf("%+.9f", skew)
}

// ParseCoords splits a concatenated signed-latitude/signed-longitude
// token (e.g. "+34.068930-118.445127") into its two signed decimal
// parts, both as text and as parsed finite floats.
func ParseCoords(coords string) (latText, lonText string, lat, lon float64, err error) {
	m := coordsRe.FindStringSubmatch(coords)
	if m == nil {
		return "", "", 0, 0, fmt.Errorf("wire: malformed coordinates %q", coords)
	}
	latText, lonText = m[1], m[2]
	lat, err = strconv.ParseFloat(latText, 64)
	if err != nil || math.IsInf(lat, 0) || math.IsNaN(lat) {
		return "", "", 0, 0, fmt.Errorf("wire: latitude %q is not a finite decimal", latText)
	}
	lon, err = strconv.ParseFloat(lonText, 64)
	if err != nil || math.IsInf(lon, 0) || math.IsNaN(lon) {
		return "", "", 0, 0, fmt.Errorf("wire: longitude %q is not a finite decimal", lonText)
	}
	return latText, lonText, lat, lon, nil
}

// ParseTimestamp parses a client-supplied timestamp token, requiring it
// to be a finite decimal. Only the parsed value is returned; callers keep
// the token itself as the record's original text.
func ParseTimestamp(text string) (float64, error) {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("wire: timestamp %q is not a finite decimal", text)
	}
	return v, nil
}

// Tokenize splits a line on runs of whitespace.
func Tokenize(line string) []string {
	return strings.Fields(line)
}

// IAMATFields is the parsed, still-unrendered payload of an IAMAT line.
type IAMATFields struct {
	ClientID      string
	LatText       string
	LonText       string
	Lat           float64
	Lon           float64
	TimestampText string
	Timestamp     float64
}

// ParseIAMAT parses the argument tokens of an IAMAT command (the
// command name itself already consumed).
func ParseIAMAT(fields []string) (IAMATFields, error) {
	if len(fields) != 3 {
		return IAMATFields{}, fmt.Errorf("wire: IAMAT wants 3 arguments, got %d", len(fields))
	}
	latText, lonText, lat, lon, err := ParseCoords(fields[1])
	if err != nil {
		return IAMATFields{}, err
	}
	ts, err := ParseTimestamp(fields[2])
	if err != nil {
		return IAMATFields{}, err
	}
	return IAMATFields{
		ClientID:      fields[0],
		LatText:       latText,
		LonText:       lonText,
		Lat:           lat,
		Lon:           lon,
		TimestampText: fields[2],
		Timestamp:     ts,
	}, nil
}

// ParseWHATSAT parses the argument tokens of a WHATSAT command.
func ParseWHATSAT(fields []string) (clientID string, radiusKm float64, maxResults int, err error) {
	if len(fields) != 3 {
		return "", 0, 0, fmt.Errorf("wire: WHATSAT wants 3 arguments, got %d", len(fields))
	}
	clientID = fields[0]
	radiusKm, err = strconv.ParseFloat(fields[1], 64)
	if err != nil || math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm <= 0 || radiusKm > 50 {
		return "", 0, 0, fmt.Errorf("wire: radius %q is not a decimal in (0, 50]", fields[1])
	}
	maxResults, err = strconv.Atoi(fields[2])
	if err != nil || maxResults < 1 || maxResults > 20 {
		return "", 0, 0, fmt.Errorf("wire: max_results %q is not an integer in [1, 20]", fields[2])
	}
	return clientID, radiusKm, maxResults, nil
}

// ParseAT parses a full "AT ..." line as received from a peer link:
// AT <origin_server> <signed_time_skew> <client_id> <coords> <client_timestamp>
func ParseAT(line string) (*Record, error) {
	fields := Tokenize(line)
	if len(fields) != 6 || fields[0] != CmdAT {
		return nil, fmt.Errorf("wire: malformed AT line %q", line)
	}
	origin, skewText, clientID, coordsText, tsText := fields[1], fields[2], fields[3], fields[4], fields[5]
	skew, err := strconv.ParseFloat(skewText, 64)
	if err != nil || math.IsInf(skew, 0) || math.IsNaN(skew) {
		return nil, fmt.Errorf("wire: AT time skew %q is not a finite decimal", skewText)
	}
	latText, lonText, lat, lon, err := ParseCoords(coordsText)
	if err != nil {
		return nil, err
	}
	ts, err := ParseTimestamp(tsText)
	if err != nil {
		return nil, err
	}
	return &Record{
		OriginServer:  origin,
		TimeSkewText:  skewText,
		TimeSkew:      skew,
		ClientID:      clientID,
		LatText:       latText,
		LonText:       lonText,
		Lat:           lat,
		Lon:           lon,
		TimestampText: tsText,
		Timestamp:     ts,
		Raw:           line,
	}, nil
}

// RenderAT builds the canonical AT line and the Record describing it,
// from a freshly accepted IAMAT at origin server originServer.
func RenderAT(originServer string, skew float64, f IAMATFields) *Record {
	skewText := FormatSkew(skew)
	coordsText := f.LatText + f.LonText
	raw := strings.Join([]string{CmdAT, originServer, skewText, f.ClientID, coordsText, f.TimestampText}, " ")
	return &Record{
		OriginServer:  originServer,
		TimeSkewText:  skewText,
		TimeSkew:      skew,
		ClientID:      f.ClientID,
		LatText:       f.LatText,
		LonText:       f.LonText,
		Lat:           f.Lat,
		Lon:           f.Lon,
		TimestampText: f.TimestampText,
		Timestamp:     f.Timestamp,
		Raw:           raw,
	}
}

// Invalid renders the "? <line>" response for a malformed or
// out-of-range command, repeating the offending line verbatim.
func Invalid(line string) string {
	return "? " + line
}
