package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/assetcheck/internal/app"
	"github.com/raphaelgruber/assetcheck/internal/auth"
	"github.com/raphaelgruber/assetcheck/internal/client"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize access to the spreadsheet and attachment folder",
	Long: `Run the OAuth consent flow and store the token in the local store.

Requires ASSETCHECK_CLIENT_ID. Open the printed URL, approve access and
paste the authorization code back.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

// promptConsent prints authURL and reads the pasted code from in.
func promptConsent(in io.Reader, out io.Writer) auth.ConsentFunc {
	return func(ctx context.Context, authURL string) (string, error) {
		fmt.Fprintf(out, "Open this URL in a browser and approve access:\n\n  %s\n\nAuthorization code (empty to cancel): ", authURL)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read code: %w", err)
		}
		code := strings.TrimSpace(line)
		if code == "" {
			return "", auth.ErrConsentDenied
		}
		return code, nil
	}
}

func oauthProvider(ctx context.Context) (*app.App, *auth.Provider, error) {
	if cfg.ClientID == "" {
		return nil, nil, errors.New("login needs ASSETCHECK_CLIENT_ID")
	}
	a, err := openApp(ctx, app.WithConsent(promptConsent(os.Stdin, os.Stdout)))
	if err != nil {
		return nil, nil, err
	}
	if a.Auth == nil {
		return nil, nil, errors.New("a fixed access token is configured, unset ASSETCHECK_ACCESS_TOKEN to log in")
	}
	return a, a.Auth, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, p, err := oauthProvider(ctx)
	if err != nil {
		return err
	}
	if err := p.Login(ctx); err != nil {
		if errors.Is(err, auth.ErrConsentDenied) {
			fmt.Println("Login cancelled")
			return nil
		}
		return fmt.Errorf("login: %w", err)
	}
	fmt.Println("Logged in")
	return drainAfterLogin(ctx, a.Coordinator, os.Stdout)
}

// drainAfterLogin uploads whatever was queued while signed out and prints
// the counts. An empty queue prints nothing.
func drainAfterLogin(ctx context.Context, coord *syncer.Coordinator, out io.Writer) error {
	if coord == nil {
		return nil
	}
	n, err := coord.Queue().Len(ctx)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	if n == 0 {
		return nil
	}

	fmt.Fprintf(out, "Uploading %d queued results\n", n)
	res, err := coord.DrainQueue(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync after login: %w", err)
	}
	fmt.Fprint(out, summarize(defaultTheme, client.DrainResult{
		Uploaded: res.Uploaded,
		Failed:   res.Failed,
		Skipped:  res.Skipped,
	}))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, p, err := oauthProvider(ctx)
	if err != nil {
		return err
	}
	if err := p.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Println("Logged out")
	return nil
}
