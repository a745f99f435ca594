package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRepositoryURL(t *testing.T) {
	ok := []string{
		"https://github.com/acme/shop.git",
		"http://gitlab.example.com/group/repo",
		"https://8.8.8.8/repo.git",
	}
	for _, u := range ok {
		assert.NoError(t, ValidateRepositoryURL(u), u)
	}
	bad := []string{
		"",
		"ftp://github.com/acme/shop",
		"file:///etc/passwd",
		"https://localhost/repo",
		"http://127.0.0.1:8080/repo",
		"http://10.0.0.5/repo",
		"http://192.168.1.10/repo",
		"http://172.20.0.1/repo",
		"http://[::1]/repo",
		"http://169.254.169.254/latest",
		"https://",
	}
	for _, u := range bad {
		assert.Error(t, ValidateRepositoryURL(u), u)
	}
}

func TestValidateBranch(t *testing.T) {
	for _, b := range []string{"", "main", "feature/login-fix", "release-1.2"} {
		assert.NoError(t, ValidateBranch(b), b)
	}
	for _, b := range []string{"-rf", "a..b", "main; rm -rf /", "bad branch", strings.Repeat("x", 300)} {
		assert.Error(t, ValidateBranch(b), b)
	}
}

func TestValidateAnalysisID(t *testing.T) {
	assert.NoError(t, ValidateAnalysisID("7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	assert.Error(t, ValidateAnalysisID(""))
	assert.Error(t, ValidateAnalysisID("../../etc"))
}

func TestValidateBuildFile(t *testing.T) {
	assert.NoError(t, ValidateBuildFile("dockerfile", "FROM alpine\nRUN echo hi"))
	assert.Error(t, ValidateBuildFile("dockerfile", strings.Repeat("a", MaxBuildFileSize+1)))
	assert.Error(t, ValidateBuildFile("compose", "services:\x00"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello world", SanitizeString("  hello\x00 world\x07 "))
	assert.Equal(t, "a\tb\nc", SanitizeString("a\tb\nc"))
}

func TestValidateLimit(t *testing.T) {
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 100, ValidateLimit(1000))
	assert.Equal(t, 5, ValidateLimit(5))
}
