package comments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"inkstone/internal/apierr"
)

const graphqlEndpoint = "https://api.github.com/graphql"

// graphqlClient wraps a raw JSON POST against the GitHub GraphQL API,
// authenticated through a transport supplied by the caller (the same
// ghinstallation-backed *http.Client the REST client uses — no GraphQL
// client library exists anywhere in the corpus, see DESIGN.md).
type graphqlClient struct {
	http *http.Client
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func (c *graphqlClient) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("%w: encode graphql request: %v", apierr.ErrUpstream, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphqlEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build graphql request: %v", apierr.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do graphql request: %v", apierr.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: graphql status %d", apierr.ErrUpstream, resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: decode graphql envelope: %v", apierr.ErrUpstream, err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: graphql error: %s", apierr.ErrUpstream, envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: decode graphql data: %v", apierr.ErrUpstream, err)
	}
	return nil
}

const discussionsPageQuery = `
query($owner: String!, $name: String!, $after: String) {
  repository(owner: $owner, name: $name) {
    discussions(first: 20, after: $after) {
      pageInfo { endCursor hasNextPage }
      nodes {
        id
        title
        updatedAt
        comments(first: 50) {
          pageInfo { endCursor hasNextPage }
          nodes {
            id
            createdAt
            bodyHTML
            author { login }
            replies(first: 50) {
              pageInfo { endCursor hasNextPage }
              nodes {
                id
                createdAt
                bodyHTML
                author { login }
              }
            }
          }
        }
      }
    }
  }
}`

type pageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

type ghActor struct {
	Login string `json:"login"`
}

type ghComment struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"createdAt"`
	BodyHTML  string  `json:"bodyHTML"`
	Author    ghActor `json:"author"`
	Replies   struct {
		PageInfo pageInfo    `json:"pageInfo"`
		Nodes    []ghComment `json:"nodes"`
	} `json:"replies"`
}

type ghDiscussion struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updatedAt"`
	Comments  struct {
		PageInfo pageInfo    `json:"pageInfo"`
		Nodes    []ghComment `json:"nodes"`
	} `json:"comments"`
}

type discussionsPageResponse struct {
	Repository struct {
		Discussions struct {
			PageInfo pageInfo       `json:"pageInfo"`
			Nodes    []ghDiscussion `json:"nodes"`
		} `json:"discussions"`
	} `json:"repository"`
}

// fetchAllDiscussions pages through repository.discussions via endCursor/
// hasNextPage (spec.md §4.9). Reply pagination beyond the first 50 per
// comment is not followed — GitHub Discussions threads are two levels deep
// in practice (spec.md §9's "cyclic comment parents" note), so a single
// reply page comfortably covers real threads.
func (c *graphqlClient) fetchAllDiscussions(ctx context.Context, owner, name string) ([]ghDiscussion, error) {
	var all []ghDiscussion
	var after *string
	for {
		vars := map[string]any{"owner": owner, "name": name}
		if after != nil {
			vars["after"] = *after
		}
		var resp discussionsPageResponse
		if err := c.do(ctx, discussionsPageQuery, vars, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Repository.Discussions.Nodes...)
		if !resp.Repository.Discussions.PageInfo.HasNextPage {
			break
		}
		cursor := resp.Repository.Discussions.PageInfo.EndCursor
		after = &cursor
	}
	return all, nil
}
