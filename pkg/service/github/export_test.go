package github

import (
	"net/http"

	"github.com/shurcooL/githubv4"
)

// NewForTest points the client at a GraphQL endpoint such as an httptest server
func NewForTest(endpoint string, httpClient *http.Client, repos []Repository) (*Client, error) {
	return newClient(githubv4.NewEnterpriseClient(endpoint, httpClient), repos)
}
