package github_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/github"
)

const issuePage = `{"data":{"search":{
  "edges":[
    {"node":{
      "__typename":"Issue",
      "number":7,"title":"Login fails","body":"Steps to reproduce","state":"OPEN",
      "url":"https://github.com/acme/api/issues/7",
      "createdAt":"2026-01-02T00:00:00Z","updatedAt":"2026-01-05T00:00:00Z",
      "author":{"login":"alice"},
      "labels":{"nodes":[{"name":"bug"}]},
      "comments":{"nodes":[{"author":{"login":"bob"},"body":"Reproduced","createdAt":"2026-01-03T00:00:00Z"}]}
    }}
  ],
  "pageInfo":{"hasNextPage":true,"endCursor":"c1"}
}}}`

const prPage = `{"data":{"search":{
  "edges":[
    {"node":{
      "__typename":"PullRequest",
      "number":8,"title":"Fix login","body":"","state":"MERGED",
      "url":"https://github.com/acme/api/pull/8",
      "createdAt":"2026-01-04T00:00:00Z","updatedAt":"2026-01-06T00:00:00Z",
      "author":{"login":"carol"},
      "labels":{"nodes":[]},
      "comments":{"nodes":[]},
      "reviews":{"nodes":[{"author":{"login":"alice"},"body":"LGTM","state":"APPROVED","createdAt":"2026-01-05T00:00:00Z"}]}
    }}
  ],
  "pageInfo":{"hasNextPage":false,"endCursor":""}
}}}`

func TestParseRepository(t *testing.T) {
	repo, err := github.ParseRepository(" acme/api ")
	gt.NoError(t, err).Required()
	gt.Value(t, repo).Equal(github.Repository{Owner: "acme", Name: "api"})
	gt.Value(t, repo.String()).Equal("acme/api")

	for _, s := range []string{"", "acme", "acme/", "/api", "acme/api/x"} {
		_, err := github.ParseRepository(s)
		gt.Error(t, err)
	}
}

func TestNew(t *testing.T) {
	_, err := github.NewWithToken("", []github.Repository{{Owner: "a", Name: "b"}})
	gt.Error(t, err)

	_, err = github.NewWithToken("token", nil)
	gt.Error(t, err)

	client, err := github.NewWithToken("token", []github.Repository{{Owner: "a", Name: "b"}})
	gt.NoError(t, err).Required()
	gt.Value(t, client.SourceType()).Equal(types.SourceTypeGitHub)
}

func TestClient_FetchUpdated(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var queries []string
	var cursors []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&req)).Required()
		queries = append(queries, req.Variables["query"].(string))
		cursors = append(cursors, req.Variables["cursor"])

		w.Header().Set("Content-Type", "application/json")
		if req.Variables["cursor"] == nil {
			_, _ = w.Write([]byte(issuePage))
			return
		}
		_, _ = w.Write([]byte(prPage))
	}))
	defer srv.Close()

	client, err := github.NewForTest(srv.URL, srv.Client(), []github.Repository{{Owner: "acme", Name: "api"}})
	gt.NoError(t, err).Required()

	var items []*model.SourceItem
	for item, err := range client.FetchUpdated(context.Background(), since) {
		gt.NoError(t, err).Required()
		items = append(items, item)
	}

	gt.A(t, queries).Length(2).Required()
	gt.Value(t, queries[0]).Equal("repo:acme/api updated:>=2026-01-01T00:00:00Z sort:updated-asc")
	gt.Value(t, cursors[1]).Equal(any("c1"))

	gt.A(t, items).Length(2).Required()

	issue := items[0]
	gt.Value(t, issue.SourceID).Equal("acme/api#7")
	gt.Value(t, issue.Title).Equal("acme/api#7: Login fails")
	gt.Value(t, issue.URL).Equal("https://github.com/acme/api/issues/7")
	gt.Value(t, issue.UpdatedAt).Equal(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	gt.String(t, issue.Content).Contains("Opened by alice. State: OPEN. Labels: bug.")
	gt.String(t, issue.Content).Contains("## Comment by bob (2026-01-03)\n\nReproduced")
	gt.Value(t, issue.Metadata[github.MetaKind]).Equal(any("issue"))

	pr := items[1]
	gt.Value(t, pr.SourceID).Equal("acme/api#8")
	gt.Value(t, pr.Metadata[github.MetaKind]).Equal(any("pull_request"))
	gt.String(t, pr.Content).Contains("## Review by alice: APPROVED\n\nLGTM")
	gt.Bool(t, strings.Contains(pr.Content, "Labels:")).False()
}

func TestClient_FetchUpdated_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := github.NewForTest(srv.URL, srv.Client(), []github.Repository{{Owner: "acme", Name: "api"}})
	gt.NoError(t, err).Required()

	var errs int
	for item, err := range client.FetchUpdated(context.Background(), time.Now()) {
		gt.Value(t, item).Nil()
		gt.Error(t, err)
		errs++
	}
	gt.Value(t, errs).Equal(1)
}

func TestClient_Live(t *testing.T) {
	token := os.Getenv("TEST_GITHUB_TOKEN")
	repoName := os.Getenv("TEST_GITHUB_REPOSITORY")
	if token == "" || repoName == "" {
		t.Skip("TEST_GITHUB_TOKEN or TEST_GITHUB_REPOSITORY is not set")
	}

	repo, err := github.ParseRepository(repoName)
	gt.NoError(t, err).Required()
	client, err := github.NewWithToken(token, []github.Repository{repo})
	gt.NoError(t, err).Required()

	for item, err := range client.FetchUpdated(context.Background(), time.Now().Add(-7*24*time.Hour)) {
		gt.NoError(t, err).Required()
		gt.String(t, item.SourceID).HasPrefix(repo.String() + "#")
	}
}
