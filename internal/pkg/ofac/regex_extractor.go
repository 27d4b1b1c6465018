package ofac

import (
	"bufio"
	"bytes"
	"regexp"
)

// regexExtractor is the fallback for list formats the structured parser
// cannot read. It scans line by line, pairing each recognized address with
// the most recent digital-currency marker.
type regexExtractor struct{}

func (regexExtractor) Name() string { return "regex-fallback" }

var addressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`0x[0-9a-fA-F]{40}`),
	regexp.MustCompile(`T[1-9A-HJ-NP-Za-km-z]{33}`),
	regexp.MustCompile(`bc1[02-9ac-hj-np-z]{25,90}`),
	regexp.MustCompile(`[13][1-9A-HJ-NP-Za-km-z]{25,34}`),
}

func (e regexExtractor) Extract(data []byte) ([]ExtractedAddress, error) {
	var out []ExtractedAddress
	seen := make(map[string]bool)
	currentType := ""

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := digitalCurrencyMarker.FindStringSubmatch(line); m != nil {
			currentType = normalizeTicker(m[1])
		}
		if currentType == "" {
			continue
		}
		for _, pattern := range addressPatterns {
			for _, addr := range pattern.FindAllString(line, -1) {
				if seen[addr] {
					continue
				}
				seen[addr] = true
				out = append(out, ExtractedAddress{
					Address:     addr,
					AddressType: currentType,
					SDNName:     "UNKNOWN",
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
