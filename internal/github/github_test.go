package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

func TestParseRepoRef(t *testing.T) {
	testCases := []struct {
		name      string
		reference string
		expected  RepoRef
		wantErr   bool
	}{
		{name: "owner slash name", reference: "apify-store/actors", expected: RepoRef{Owner: "apify-store", Name: "actors"}},
		{name: "https url", reference: "https://github.com/apify-store/actors", expected: RepoRef{Owner: "apify-store", Name: "actors"}},
		{name: "https url with git suffix", reference: "https://github.com/apify-store/actors.git", expected: RepoRef{Owner: "apify-store", Name: "actors"}},
		{name: "https url with trailing slash", reference: "https://github.com/apify-store/actors/", expected: RepoRef{Owner: "apify-store", Name: "actors"}},
		{name: "ssh remote", reference: "git@github.com:apify-store/actors.git", expected: RepoRef{Owner: "apify-store", Name: "actors"}},
		{name: "empty", reference: "  ", wantErr: true},
		{name: "bare name", reference: "actors", wantErr: true},
		{name: "too many segments", reference: "a/b/c", wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			parsed, parseErr := ParseRepoRef(testCase.reference)
			if testCase.wantErr {
				require.Error(t, parseErr)
				require.True(t, errs.Is(parseErr, errs.ErrConfiguration))
				return
			}
			require.NoError(t, parseErr)
			require.Equal(t, testCase.expected, parsed)
		})
	}
}

func TestGetBranchParsesHeadAndTree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/repos/apify-store/actors/branches/main", request.URL.Path)
		assert.Equal(t, "Bearer pat-1", request.Header.Get("Authorization"))
		assert.Equal(t, acceptHeader, request.Header.Get("Accept"))
		_, _ = writer.Write([]byte(`{"name": "main", "commit": {"sha": "head-sha", "commit": {"tree": {"sha": "tree-sha"}}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, StaticToken("pat-1"), nil)
	branch, branchErr := client.GetBranch(context.Background(), RepoRef{Owner: "apify-store", Name: "actors"}, "main")
	require.NoError(t, branchErr)
	require.Equal(t, "head-sha", branch.HeadSHA)
	require.Equal(t, "tree-sha", branch.TreeSHA)
}

func TestGetContentsDecodesWrappedBase64(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/repos/apify-store/actors/contents/.actor/actor.json", request.URL.Path)
		assert.Equal(t, "main", request.URL.Query().Get("ref"))
		_, _ = writer.Write([]byte(`{"content": "eyJuYW1lIjog\nImRlbW8ifQ==", "encoding": "base64"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, StaticToken("pat"), nil)
	content, contentsErr := client.GetContents(context.Background(), RepoRef{Owner: "apify-store", Name: "actors"}, ".actor/actor.json", "main")
	require.NoError(t, contentsErr)
	require.JSONEq(t, `{"name": "demo"}`, string(content))
}

func TestCreateTreeSendsBaseTree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var requestBody map[string]any
		require.NoError(t, json.NewDecoder(request.Body).Decode(&requestBody))
		assert.Equal(t, "base-tree-sha", requestBody["base_tree"])
		entries, _ := requestBody["tree"].([]any)
		assert.Len(t, entries, 2)
		_, _ = writer.Write([]byte(`{"sha": "new-tree-sha"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, StaticToken("pat"), nil)
	treeSHA, treeErr := client.CreateTree(context.Background(), RepoRef{Owner: "o", Name: "r"}, "base-tree-sha", []TreeEntry{
		{Path: "a.json", Mode: ModeFile, Type: TypeBlob, SHA: "blob-a"},
		{Path: "b.json", Mode: ModeFile, Type: TypeBlob, SHA: "blob-b"},
	})
	require.NoError(t, treeErr)
	require.Equal(t, "new-tree-sha", treeSHA)
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, StaticToken("pat"), nil)
	_, branchErr := client.GetBranch(context.Background(), RepoRef{Owner: "o", Name: "r"}, "gone")
	require.True(t, errs.Is(branchErr, errs.ErrNotFound))
}

func TestAppAuthExchangesAndCachesToken(t *testing.T) {
	privateKey, keyErr := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, keyErr)
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})

	var exchanges atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/app/installations/777/access_tokens", request.URL.Path)
		rawJWT := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
		parsed, parseErr := jwt.Parse(rawJWT, func(*jwt.Token) (any, error) {
			return &privateKey.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		assert.NoError(t, parseErr)
		issuer, _ := parsed.Claims.GetIssuer()
		assert.Equal(t, "12345", issuer)

		exchanges.Add(1)
		writer.WriteHeader(http.StatusCreated)
		_, _ = writer.Write([]byte(`{"token": "installation-token", "expires_at": "2099-01-01T00:00:00Z"}`))
	}))
	defer server.Close()

	auth, authErr := NewAppAuth(12345, 777, privateKeyPEM, server.URL)
	require.NoError(t, authErr)

	firstToken, firstErr := auth.Token(context.Background())
	require.NoError(t, firstErr)
	require.Equal(t, "installation-token", firstToken)

	secondToken, secondErr := auth.Token(context.Background())
	require.NoError(t, secondErr)
	require.Equal(t, firstToken, secondToken)
	require.Equal(t, int64(1), exchanges.Load(), "second call must hit the cache")
}

func TestAppAuthRejectsBadKey(t *testing.T) {
	_, authErr := NewAppAuth(1, 2, []byte("not a pem"), "https://api.github.com")
	require.Error(t, authErr)
}

func TestMemCommitFlowPreservesUntouchedFiles(t *testing.T) {
	repoRef := RepoRef{Owner: "apify-store", Name: "actors"}
	platform := NewMem(repoRef, "main", map[string]string{
		".actor/actor.json": `{"name": "demo"}`,
		"README.md":         "readme",
	})
	ctx := context.Background()

	base, branchErr := platform.GetBranch(ctx, repoRef, "main")
	require.NoError(t, branchErr)

	blobSHA, blobErr := platform.CreateBlob(ctx, repoRef, []byte(`{"fields": {}}`))
	require.NoError(t, blobErr)
	treeSHA, treeErr := platform.CreateTree(ctx, repoRef, base.TreeSHA, []TreeEntry{{Path: ".actor/dataset_schema.json", Mode: ModeFile, Type: TypeBlob, SHA: blobSHA}})
	require.NoError(t, treeErr)
	commitSHA, commitErr := platform.CreateCommit(ctx, repoRef, "add schema", treeSHA, []string{base.HeadSHA})
	require.NoError(t, commitErr)
	require.NoError(t, platform.CreateRef(ctx, repoRef, "feature", commitSHA))

	newFile, newExists := platform.FileAt("feature", ".actor/dataset_schema.json")
	require.True(t, newExists)
	require.JSONEq(t, `{"fields": {}}`, string(newFile))

	untouched, untouchedExists := platform.FileAt("feature", "README.md")
	require.True(t, untouchedExists)
	require.Equal(t, "readme", string(untouched))

	mainHead, _ := platform.BranchHead("main")
	require.Equal(t, base.HeadSHA, mainHead, "main must not move")
}
