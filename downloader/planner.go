// Package downloader implements the Part Worker, Progress Aggregator, and
// Download Coordinator.
package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"netmanthan/internal/model"
	"netmanthan/internal/nmerr"
)

// MinPartSize is the smallest a part is allowed to be; PartsForSize reduces
// a caller's requested connections_per_server so no part falls below it.
// CalculateParts itself doesn't apply this floor; it caps numParts only at
// total and at MaxParts.
const MinPartSize int64 = 1024 * 1024

// MaxParts caps connections_per_server.
const MaxParts = 32

// PartsForSize picks the part count the coordinator should actually request
// from CalculateParts for a file of total bytes: requested capped at
// MaxParts, then reduced (never below 1) until no part would be smaller
// than MinPartSize.
func PartsForSize(total int64, requested int) int {
	if requested < 1 {
		requested = 1
	}
	if requested > MaxParts {
		requested = MaxParts
	}
	for requested > 1 && total/int64(requested) < MinPartSize {
		requested--
	}
	return requested
}

// CalculateParts splits [0, total) into numParts contiguous, disjoint,
// inclusive-bounds ranges. The remainder is distributed one byte at a time
// to the lowest-indexed parts (calculate_chunks(10, 3) ==
// [(0,3),(4,6),(7,9)]). numParts is honored except that it is capped at
// total (one byte per part) and at MaxParts; the MinPartSize floor is not
// applied here but by PartsForSize, which callers use to size numParts.
func CalculateParts(total int64, numParts int) []model.Part {
	if total <= 0 {
		return nil
	}
	if numParts < 1 {
		numParts = 1
	}
	if int64(numParts) > total {
		numParts = int(total)
	}
	if numParts > MaxParts {
		numParts = MaxParts
	}

	base := total / int64(numParts)
	rem := total % int64(numParts)

	parts := make([]model.Part, numParts)
	var offset int64
	for i := 0; i < numParts; i++ {
		size := base
		if int64(i) < rem {
			size++
		}
		parts[i] = model.Part{Start: offset, End: offset + size - 1}
		offset += size
	}
	return parts
}

// ProbeResult is what the Coordinator's probe learns about the origin.
type ProbeResult struct {
	StatusCode      int
	ContentLength   int64
	AcceptsRanges   bool
	ContentDispName string // from Content-Disposition, if present
}

// Probe issues a single unranged GET (never HEAD, since some origins don't
// honor it) and reads Content-Length/Accept-Ranges/Content-Disposition. It
// closes the response body without reading it, since only headers matter
// here.
func Probe(ctx context.Context, client *http.Client, rawURL string, headers []model.Header, referrer string) (ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ProbeResult{}, nmerr.New(nmerr.KindProtocol, "building probe request").WithCause(err)
	}
	for _, h := range headers {
		req.Header.Set(h.Name, h.Value)
	}
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return ProbeResult{}, nmerr.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ProbeResult{}, nmerr.Http(resp.StatusCode, resp.Status)
	}

	result := ProbeResult{
		StatusCode:    resp.StatusCode,
		AcceptsRanges: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			result.ContentLength = n
		}
	}
	result.ContentDispName = filenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	return result, nil
}

var sanitizeReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFilename replaces / \ : * ? " < > | with _, trims whitespace and
// leading dots, and falls back to "unnamed_file" if the result is empty.
func SanitizeFilename(name string) string {
	name = sanitizeReplacer.Replace(name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "unnamed_file"
	}
	return name
}

var contentDispositionStarRe = regexp.MustCompile(`(?i)filename\*\s*=\s*([^;]+)`)
var contentDispositionRe = regexp.MustCompile(`(?i)filename\s*=\s*"?([^";]+)"?`)

// filenameFromContentDisposition prefers filename*= (RFC 5987
// percent-encoded, typically UTF-8''name) over a plain filename=.
func filenameFromContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	if m := contentDispositionStarRe.FindStringSubmatch(header); m != nil {
		raw := strings.TrimSpace(m[1])
		if idx := strings.Index(raw, "''"); idx != -1 {
			raw = raw[idx+2:]
		}
		if decoded, err := url.QueryUnescape(raw); err == nil {
			return decoded
		}
		return raw
	}
	if m := contentDispositionRe.FindStringSubmatch(header); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), `"`)
	}
	return ""
}

// ResolveFilename picks a name in priority order: (1) an explicit name from
// the request, (2)/(3) Content-Disposition, (4) the last URL path segment,
// (5) a generated fallback — then sanitizes the result.
func ResolveFilename(explicit string, probe ProbeResult, rawURL string, fallbackID string) string {
	if explicit != "" {
		return SanitizeFilename(explicit)
	}
	if probe.ContentDispName != "" {
		return SanitizeFilename(probe.ContentDispName)
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		base := path.Base(parsed.Path)
		if decoded, err := url.QueryUnescape(base); err == nil {
			base = decoded
		}
		if base != "" && base != "." && base != "/" {
			return SanitizeFilename(base)
		}
	}
	return SanitizeFilename(fmt.Sprintf("net-manthan-download-%s.nm", fallbackID))
}
