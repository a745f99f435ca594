package middleware

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

// MaxBuildFileSize bounds inline Dockerfile and compose content.
const MaxBuildFileSize = 256 << 10

var branchPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]{1,255}$`)

// ValidateRepositoryURL accepts public http(s) git remotes only.
func ValidateRepositoryURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (allowed: http, https)", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("repository URL has no host")
	}

	// SSRF protection
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("localhost/internal hosts are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("private or loopback addresses are not allowed")
		}
	}
	return nil
}

// ValidateBranch checks a git ref name. Empty means the default branch.
func ValidateBranch(branch string) error {
	if branch == "" {
		return nil
	}
	if !branchPattern.MatchString(branch) || strings.Contains(branch, "..") || strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name")
	}
	return nil
}

// ValidateBuildFile bounds inline build file content and rejects NUL bytes.
func ValidateBuildFile(name, content string) error {
	if len(content) > MaxBuildFileSize {
		return fmt.Errorf("%s exceeds %d bytes", name, MaxBuildFileSize)
	}
	if strings.ContainsRune(content, 0) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// ValidateAnalysisID checks the id is a UUID.
func ValidateAnalysisID(id string) error {
	if id == "" {
		return fmt.Errorf("analysis ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid analysis ID format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
