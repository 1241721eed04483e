package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/millatvt/millat-backend/internal/realtime"
	"github.com/millatvt/millat-backend/internal/tools/ui"
)

type watchOptions struct {
	baseURL  string
	kind     string
	email    string
	password string
	join     []uint
	plain    bool
}

func newWatchCommand() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sign in and stream realtime events for manual verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			title := fmt.Sprintf("%s %s @ %s", opts.kind, opts.email, opts.baseURL)
			if opts.plain {
				return streamEvents(cmd.Context(), opts, func(e ui.Event) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", e.At.Format(time.RFC3339), e.Name, e.Data)
				})
			}
			return ui.Watch(title, func(ctx context.Context, emit func(ui.Event)) error {
				return streamEvents(ctx, opts, emit)
			})
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&opts.kind, "kind", "student", "teacher or student")
	cmd.Flags().StringVar(&opts.email, "email", "", "login email")
	cmd.Flags().StringVar(&opts.password, "password", "", "login password")
	cmd.Flags().UintSliceVar(&opts.join, "join", nil, "conversation ids to join after connecting")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print events line by line instead of the TUI")
	return cmd
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// streamEvents logs in with a cookie jar, exchanges the session for a
// websocket token and relays every received frame to emit.
func streamEvents(ctx context.Context, opts *watchOptions, emit func(ui.Event)) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}
	base := strings.TrimRight(opts.baseURL, "/")

	if _, err := callAPI(ctx, client, http.MethodPost, base+"/api/auth/"+opts.kind+"/login", map[string]string{
		"email": opts.email, "password": opts.password,
	}); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	data, err := callAPI(ctx, client, http.MethodGet, base+"/api/auth/refresh/websocket-token", nil)
	if err != nil {
		return fmt.Errorf("websocket token: %w", err)
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("decode websocket token: %w", err)
	}

	wsURL, err := websocketURL(base, tok.Token)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()
	emit(ui.Event{At: time.Now(), Name: "connected", Data: wsURL[:strings.Index(wsURL, "?")]})

	for _, id := range opts.join {
		frame := map[string]any{"event": realtime.EventJoinConversation, "data": map[string]uint{"conversationId": id}}
		if err := conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("join %d: %w", id, err)
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		var f realtime.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		emit(ui.Event{At: time.Now(), Name: f.Event, Data: string(f.Data)})
	}
}

func callAPI(ctx context.Context, client *http.Client, method, target string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%s: %s", resp.Status, env.Message)
	}
	return env.Data, nil
}

func websocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
