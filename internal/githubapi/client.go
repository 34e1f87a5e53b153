// Package githubapi resolves repository metadata through the GitHub REST API.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
)

const (
	ownerRequiredMessageConstant          = "repository owner must be provided"
	repositoryRequiredMessageConstant     = "repository name must be provided"
	defaultBranchMissingMessageConstant   = "repository reports no default branch"
	baseURLErrorTemplateConstant          = "invalid GitHub API base url %q: %w"
	repositoryLookupErrorTemplateConstant = "failed to look up %s/%s: %w"
	trailingSlashConstant                 = "/"
)

var (
	// ErrOwnerRequired indicates the owner argument was empty.
	ErrOwnerRequired = errors.New(ownerRequiredMessageConstant)
	// ErrRepositoryRequired indicates the repository argument was empty.
	ErrRepositoryRequired = errors.New(repositoryRequiredMessageConstant)
	// ErrDefaultBranchMissing indicates GitHub returned a repository without a default branch.
	ErrDefaultBranchMissing = errors.New(defaultBranchMissingMessageConstant)
)

// Options configures a Client.
type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Client wraps the go-github repositories service.
type Client struct {
	github *github.Client
}

// NewClient constructs a Client. An empty token issues anonymous requests.
func NewClient(options Options) (*Client, error) {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	trimmedToken := strings.TrimSpace(options.Token)
	if len(trimmedToken) > 0 {
		clientContext := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(clientContext, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: trimmedToken}))
	}

	githubClient := github.NewClient(httpClient)
	trimmedBaseURL := strings.TrimSpace(options.BaseURL)
	if len(trimmedBaseURL) > 0 {
		if !strings.HasSuffix(trimmedBaseURL, trailingSlashConstant) {
			trimmedBaseURL += trailingSlashConstant
		}
		parsedURL, parseError := url.Parse(trimmedBaseURL)
		if parseError != nil {
			return nil, fmt.Errorf(baseURLErrorTemplateConstant, options.BaseURL, parseError)
		}
		githubClient.BaseURL = parsedURL
	}

	return &Client{github: githubClient}, nil
}

// DefaultBranch returns the default branch of owner/repository.
func (client *Client) DefaultBranch(executionContext context.Context, owner string, repository string) (string, error) {
	trimmedOwner := strings.TrimSpace(owner)
	if len(trimmedOwner) == 0 {
		return "", ErrOwnerRequired
	}
	trimmedRepository := strings.TrimSpace(repository)
	if len(trimmedRepository) == 0 {
		return "", ErrRepositoryRequired
	}

	repositoryDetails, _, lookupError := client.github.Repositories.Get(executionContext, trimmedOwner, trimmedRepository)
	if lookupError != nil {
		return "", fmt.Errorf(repositoryLookupErrorTemplateConstant, trimmedOwner, trimmedRepository, lookupError)
	}

	defaultBranch := strings.TrimSpace(repositoryDetails.GetDefaultBranch())
	if len(defaultBranch) == 0 {
		return "", ErrDefaultBranchMissing
	}
	return defaultBranch, nil
}
