package httpserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-pipeline/internal/middleware"
)

func TestValidateRequest(t *testing.T) {
	ok := startRequest{ProjectID: "shop", RepositoryURL: "https://github.com/acme/shop.git", Branch: "feature/x"}
	require.NoError(t, validateRequest(ok))

	tests := []struct {
		name string
		req  startRequest
		want string
	}{
		{"missing project", startRequest{}, "project_id failed required"},
		{"long project", startRequest{ProjectID: strings.Repeat("p", 65)}, "project_id failed max=64"},
		{"not a url", startRequest{ProjectID: "p", RepositoryURL: "git@github.com:a/b"}, "repository_url failed url"},
		{"bad branch", startRequest{ProjectID: "p", Branch: "a..b"}, "branch failed branch"},
		{"huge dockerfile", startRequest{ProjectID: "p", DockerfileContent: strings.Repeat("x", middleware.MaxBuildFileSize+1)}, "dockerfile_content failed buildfile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(tt.req)
			require.Error(t, err)
			var he *httpError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, 400, he.code)
			assert.Equal(t, tt.want, he.msg)
		})
	}
}
