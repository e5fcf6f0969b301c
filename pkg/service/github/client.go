package github

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/shurcooL/githubv4"
)

// Metadata keys of GitHub items
const (
	MetaRepository = "github_repository"
	MetaNumber     = "github_number"
	MetaKind       = "github_kind"
	MetaState      = "github_state"
	MetaLabels     = "github_labels"
)

const searchPageSize = 50

// Client reads issues and pull requests of repositories as source items. Each issue
// or pull request with its comments and reviews becomes one item.
type Client struct {
	gql   *githubv4.Client
	repos []Repository
}

var _ interfaces.SourceClient = &Client{}

// Repository is an owner/name pair
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository parses "owner/name"
func ParseRepository(s string) (Repository, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, goerr.New("repository must be owner/name", goerr.V("repository", s))
	}
	return Repository{Owner: owner, Name: name}, nil
}

// NewWithApp authenticates as a GitHub App installation. privateKey can be a PEM
// string or a path to a PEM file.
func NewWithApp(appID, installationID int64, privateKey string, repos []Repository) (*Client, error) {
	var key []byte
	// #nosec G304 -- path comes from CLI flag, not user input
	if data, err := os.ReadFile(privateKey); err == nil {
		key = data
	} else {
		key = []byte(privateKey)
	}

	tr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create GitHub App transport")
	}
	return newClient(githubv4.NewClient(&http.Client{Transport: tr}), repos)
}

// NewWithToken authenticates with a personal access token
func NewWithToken(token string, repos []Repository) (*Client, error) {
	if token == "" {
		return nil, goerr.New("GitHub token is required")
	}
	httpClient := &http.Client{Transport: &tokenTransport{token: token, base: http.DefaultTransport}}
	return newClient(githubv4.NewClient(httpClient), repos)
}

func newClient(gql *githubv4.Client, repos []Repository) (*Client, error) {
	if len(repos) == 0 {
		return nil, goerr.New("at least one GitHub repository is required")
	}
	return &Client{gql: gql, repos: repos}, nil
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

func (c *Client) SourceType() types.SourceType {
	return types.SourceTypeGitHub
}

// FetchUpdated yields issues and pull requests updated at or after since, oldest
// update first.
func (c *Client) FetchUpdated(ctx context.Context, since time.Time) iter.Seq2[*model.SourceItem, error] {
	return func(yield func(*model.SourceItem, error) bool) {
		for _, repo := range c.repos {
			if !c.fetchRepository(ctx, repo, since, yield) {
				return
			}
		}
	}
}

func (c *Client) fetchRepository(ctx context.Context, repo Repository, since time.Time, yield func(*model.SourceItem, error) bool) bool {
	query := fmt.Sprintf("repo:%s updated:>=%s sort:updated-asc", repo, since.UTC().Format(time.RFC3339))
	var cursor *githubv4.String

	for {
		var q searchQuery
		variables := map[string]any{
			"query":  githubv4.String(query),
			"first":  githubv4.Int(searchPageSize),
			"cursor": cursor,
		}
		if err := c.gql.Query(ctx, &q, variables); err != nil {
			return yield(nil, goerr.Wrap(err, "failed to search issues",
				goerr.V("repository", repo.String()), goerr.V("since", since)))
		}

		for _, edge := range q.Search.Edges {
			var item *model.SourceItem
			switch edge.Node.Typename {
			case "Issue":
				item = edge.Node.Issue.toSourceItem(repo, "issue", nil)
			case "PullRequest":
				item = edge.Node.PullRequest.toSourceItem(repo, "pull_request", edge.Node.PullReviews.Reviews.Nodes)
			}
			if item == nil {
				continue
			}
			if !yield(item, nil) {
				return false
			}
		}

		if !q.Search.PageInfo.HasNextPage {
			return true
		}
		cursor = &q.Search.PageInfo.EndCursor
	}
}

type searchQuery struct {
	Search struct {
		Edges []struct {
			Node struct {
				Typename    githubv4.String `graphql:"__typename"`
				Issue       issueNode       `graphql:"... on Issue"`
				PullRequest issueNode       `graphql:"... on PullRequest"`
				PullReviews struct {
					Reviews struct {
						Nodes []reviewNode
					} `graphql:"reviews(first: 100)"`
				} `graphql:"... on PullRequest"`
			}
		}
		PageInfo struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
	} `graphql:"search(query: $query, type: ISSUE, first: $first, after: $cursor)"`
}

type issueNode struct {
	Number    githubv4.Int
	Title     githubv4.String
	Body      githubv4.String
	State     githubv4.String
	URL       githubv4.String
	CreatedAt githubv4.DateTime
	UpdatedAt githubv4.DateTime
	Author    struct {
		Login githubv4.String
	}
	Labels struct {
		Nodes []struct {
			Name githubv4.String
		}
	} `graphql:"labels(first: 20)"`
	Comments struct {
		Nodes []commentNode
	} `graphql:"comments(first: 100)"`
}

type commentNode struct {
	Author struct {
		Login githubv4.String
	}
	Body      githubv4.String
	CreatedAt githubv4.DateTime
}

type reviewNode struct {
	Author struct {
		Login githubv4.String
	}
	Body      githubv4.String
	State     githubv4.String
	CreatedAt githubv4.DateTime
}

func (n issueNode) toSourceItem(repo Repository, kind string, reviews []reviewNode) *model.SourceItem {
	if n.Number == 0 {
		return nil
	}

	labels := make([]string, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, string(l.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\nOpened by %s. State: %s.", n.Title, n.Author.Login, n.State)
	if len(labels) > 0 {
		b.WriteString(" Labels: " + strings.Join(labels, ", ") + ".")
	}
	if body := strings.TrimSpace(string(n.Body)); body != "" {
		b.WriteString("\n\n" + body)
	}
	for _, c := range n.Comments.Nodes {
		if body := strings.TrimSpace(string(c.Body)); body != "" {
			fmt.Fprintf(&b, "\n\n## Comment by %s (%s)\n\n%s", c.Author.Login, c.CreatedAt.UTC().Format(time.DateOnly), body)
		}
	}
	for _, r := range reviews {
		body := strings.TrimSpace(string(r.Body))
		if body == "" && r.State == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n## Review by %s: %s\n\n%s", r.Author.Login, r.State, body)
	}

	number := int(n.Number)
	return &model.SourceItem{
		SourceID:  repo.String() + "#" + strconv.Itoa(number),
		Title:     fmt.Sprintf("%s#%d: %s", repo, number, n.Title),
		Content:   strings.TrimSpace(b.String()),
		URL:       string(n.URL),
		CreatedAt: n.CreatedAt.UTC(),
		UpdatedAt: n.UpdatedAt.UTC(),
		Metadata: map[string]any{
			MetaRepository:      repo.String(),
			MetaNumber:          number,
			MetaKind:            kind,
			MetaState:           string(n.State),
			MetaLabels:          labels,
			model.MetaSourceURL: string(n.URL),
		},
	}
}
