package githubapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/prunekeeper/internal/githubapi"
)

const (
	testOwnerConstant      = "octo"
	testRepositoryConstant = "sample"
	testTokenConstant      = "secret-token"
)

func newRepositoryServer(testInstance *testing.T, statusCode int, body string) (*httptest.Server, *[]string) {
	testInstance.Helper()
	authorizations := []string{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		authorizations = append(authorizations, request.Header.Get("Authorization"))
		if request.URL.Path != "/repos/octo/sample" {
			writer.WriteHeader(http.StatusNotFound)
			_, _ = writer.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(statusCode)
		_, _ = writer.Write([]byte(body))
	}))
	testInstance.Cleanup(server.Close)
	return server, &authorizations
}

func TestClientDefaultBranch(testInstance *testing.T) {
	testCases := []struct {
		name                string
		token               string
		owner               string
		statusCode          int
		body                string
		expectBranch        string
		expectError         error
		expectFailure       bool
		expectAuthorization string
	}{
		{
			name:                "authenticated_lookup",
			token:               testTokenConstant,
			owner:               testOwnerConstant,
			statusCode:          http.StatusOK,
			body:                `{"name":"sample","default_branch":"master"}`,
			expectBranch:        "master",
			expectAuthorization: "Bearer " + testTokenConstant,
		},
		{
			name:         "anonymous_lookup",
			owner:        testOwnerConstant,
			statusCode:   http.StatusOK,
			body:         `{"name":"sample","default_branch":"main"}`,
			expectBranch: "main",
		},
		{
			name:        "missing_default_branch",
			owner:       testOwnerConstant,
			statusCode:  http.StatusOK,
			body:        `{"name":"sample"}`,
			expectError: githubapi.ErrDefaultBranchMissing,
		},
		{
			name:          "not_found",
			owner:         "someone-else",
			statusCode:    http.StatusOK,
			body:          `{}`,
			expectFailure: true,
		},
		{
			name:        "missing_owner",
			expectError: githubapi.ErrOwnerRequired,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			server, authorizations := newRepositoryServer(testInstance, testCase.statusCode, testCase.body)
			client, creationError := githubapi.NewClient(githubapi.Options{Token: testCase.token, BaseURL: server.URL})
			require.NoError(testInstance, creationError)

			defaultBranch, lookupError := client.DefaultBranch(context.Background(), testCase.owner, testRepositoryConstant)
			switch {
			case testCase.expectError != nil:
				require.ErrorIs(testInstance, lookupError, testCase.expectError)
			case testCase.expectFailure:
				require.Error(testInstance, lookupError)
			default:
				require.NoError(testInstance, lookupError)
				require.Equal(testInstance, testCase.expectBranch, defaultBranch)
				require.Equal(testInstance, []string{testCase.expectAuthorization}, *authorizations)
			}
		})
	}
}

type countingTransport struct {
	requests int
}

func (transport *countingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	transport.requests++
	return http.DefaultTransport.RoundTrip(request)
}

func TestClientAuthenticatesOverProvidedHTTPClient(testInstance *testing.T) {
	server, authorizations := newRepositoryServer(testInstance, http.StatusOK, `{"name":"sample","default_branch":"trunk"}`)
	transport := &countingTransport{}

	client, creationError := githubapi.NewClient(githubapi.Options{
		Token:      " " + testTokenConstant + " ",
		BaseURL:    server.URL,
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(testInstance, creationError)

	defaultBranch, lookupError := client.DefaultBranch(context.Background(), testOwnerConstant, testRepositoryConstant)
	require.NoError(testInstance, lookupError)
	require.Equal(testInstance, "trunk", defaultBranch)
	require.Equal(testInstance, 1, transport.requests)
	require.Equal(testInstance, []string{"Bearer " + testTokenConstant}, *authorizations)
}

func TestNewClientRejectsInvalidBaseURL(testInstance *testing.T) {
	client, creationError := githubapi.NewClient(githubapi.Options{BaseURL: "://broken"})
	require.Error(testInstance, creationError)
	require.Nil(testInstance, client)
}
