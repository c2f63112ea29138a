package console

import "strings"

// FingerprintAllowList accepts keys whose SHA256 fingerprint is listed.
// Entries may omit the "SHA256:" prefix. An empty list rejects everyone.
func FingerprintAllowList(fingerprints []string) func(fingerprint string) bool {
	allowed := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		fp = strings.TrimSpace(fp)
		if fp == "" {
			continue
		}
		if !strings.HasPrefix(fp, "SHA256:") {
			fp = "SHA256:" + fp
		}
		allowed[fp] = struct{}{}
	}
	return func(fingerprint string) bool {
		_, ok := allowed[fingerprint]
		return ok
	}
}
