package core

import (
	"context"
	"testing"

	"bunpro-backup/lib/telemetry"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const signInPage = `<html><body>
<form action="/users/sign_in" method="post">
	<input type="hidden" name="authenticity_token" value="tok123">
	<input type="email" name="user[email]">
	<input type="password" name="user[password]">
</form>
</body></html>`

const invalidCredentialsPage = `<html><body>
<div class="errors"><div class="alert">Invalid Email or password.</div></div>
</body></html>`

func newTestClient(t *testing.T) *Client {
	client, err := NewClient(ClientOptions{
		Email:    "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.Http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func registerSignInResponders(t *testing.T) {
	httpmock.RegisterResponder(
		"GET", "https://bunpro.jp/users/sign_in",
		httpmock.NewStringResponder(200, signInPage),
	)

	loggedIn := httpmock.NewStringResponse(200, `<html><body><p>Welcome back</p></body></html>`)
	loggedIn.Header.Set("Set-Cookie", "frontend_api_token=token-abc; Path=/")
	httpmock.RegisterResponder(
		"POST", "https://bunpro.jp/users/sign_in",
		httpmock.ResponderFromResponse(loggedIn),
	)
}

func TestEnsureLoginIdempotent(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/bunpro/core")
	defer cleanup()
	ctx := context.Background()

	client := newTestClient(t)
	registerSignInResponders(t)

	err := client.EnsureLogin(ctx)
	require.NoError(t, err)
	require.True(t, client.LoggedIn())
	require.Equal(t, "token-abc", client.APIToken())

	// a second EnsureLogin must not touch the network
	count := httpmock.GetTotalCallCount()
	require.NoError(t, client.EnsureLogin(ctx))
	require.Equal(t, count, httpmock.GetTotalCallCount())
}

func TestLoginInvalidCredentials(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/bunpro/core")
	defer cleanup()

	client := newTestClient(t)
	httpmock.RegisterResponder(
		"GET", "https://bunpro.jp/users/sign_in",
		httpmock.NewStringResponder(200, signInPage),
	)
	httpmock.RegisterResponder(
		"POST", "https://bunpro.jp/users/sign_in",
		httpmock.NewStringResponder(200, invalidCredentialsPage),
	)

	result := client.Login(context.Background())
	require.False(t, result.OK)
	require.Equal(t, "Invalid email/password. Please check your Bunpro credentials.", result.Message)
	require.False(t, client.LoggedIn())
}

func TestLoginStatusFailure(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/bunpro/core")
	defer cleanup()

	client := newTestClient(t)
	httpmock.RegisterResponder(
		"GET", "https://bunpro.jp/users/sign_in",
		httpmock.NewStringResponder(200, signInPage),
	)
	httpmock.RegisterResponder(
		"POST", "https://bunpro.jp/users/sign_in",
		httpmock.NewStringResponder(500, "<html><body>oops</body></html>"),
	)

	result := client.Login(context.Background())
	require.False(t, result.OK)
	require.Equal(t, "Login failed with status code: 500", result.Message)
	require.False(t, client.LoggedIn())
}

func TestLoginMissingAuthenticityToken(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/bunpro/core")
	defer cleanup()

	client := newTestClient(t)
	httpmock.RegisterResponder(
		"GET", "https://bunpro.jp/users/sign_in",
		httpmock.NewStringResponder(200, "<html><body><form></form></body></html>"),
	)

	result := client.Login(context.Background())
	require.False(t, result.OK)
	require.Contains(t, result.Message, "could not find authenticity token")
	require.False(t, client.LoggedIn())
}
