package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/pquerna/otp/totp"
	"github.com/tidwall/gjson"
)

const (
	onboardingURL    = twitterAPIURL + "/1.1/onboarding/task.json"
	guestActivateURL = twitterAPIURL + "/1.1/guest/activate.json"
	maxLoginRounds   = 10
)

// errCaptchaRequired is returned when the login flow demands a challenge
// that cannot be answered without a browser.
var errCaptchaRequired = errors.New("login requires captcha")

// relogin clears auth credentials and performs a fresh login.
func (c *Client) relogin(acc *Account) error {
	slog.Info("attempting relogin", slog.String("user", acc.Username))

	acc.SetCredentials("", "")
	dropSession(c.cfg.SessionDir, acc.Username)

	if err := c.loadOrLogin(acc, c.clientForAccount(acc)); err != nil {
		return fmt.Errorf("relogin %s: %w", acc.Username, err)
	}

	acc.Reset()
	slog.Info("relogin succeeded", slog.String("user", acc.Username))
	return nil
}

// loadOrLogin uses, in order: the persisted session, credentials supplied with
// the account, and finally a password login.
func (c *Client) loadOrLogin(acc *Account, bc *stealth.BrowserClient) error {
	authToken, ct0, err := loadSession(c.cfg.SessionDir, acc.Username, c.cfg.SessionTTL)
	if err != nil {
		slog.Warn("error loading session", slog.String("user", acc.Username), slog.Any("error", err))
	}
	if authToken != "" && ct0 != "" {
		acc.SetCredentials(authToken, ct0)
		slog.Info("loaded session from disk", slog.String("user", acc.Username))
		return nil
	}

	if acc.Authenticated() {
		authToken, ct0, _ = acc.Credentials()
		acc.SetCredentials(authToken, ct0)
		slog.Info("using provided credentials", slog.String("user", acc.Username))
		c.persistSession(acc)
		return nil
	}

	if acc.Password == "" {
		return fmt.Errorf("no session and no password for account %s", acc.Username)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := c.login(ctx, acc, bc); err != nil {
		return fmt.Errorf("login failed for %s: %w", acc.Username, err)
	}
	c.persistSession(acc)
	return nil
}

// loginFlow is the state carried between onboarding subtasks.
type loginFlow struct {
	bc         *stealth.BrowserClient
	guestToken string
	token      string
	subtasks   []string
}

// subtaskInput builds the subtask_inputs entry answering one subtask.
type subtaskInput func(acc *Account, subtaskID string) (map[string]any, error)

func nextLink(key string, extra map[string]any) map[string]any {
	v := map[string]any{"link": "next_link"}
	for k, x := range extra {
		v[k] = x
	}
	return map[string]any{key: v}
}

// loginSteps answers each known subtask of the login flow.
var loginSteps = map[string]subtaskInput{
	"LoginJsInstrumentationSubtask": func(*Account, string) (map[string]any, error) {
		return nextLink("js_instrumentation", map[string]any{"response": `{"rf":{"a":"b"},"s":"s"}`}), nil
	},
	"LoginEnterUserIdentifierSSO": func(acc *Account, _ string) (map[string]any, error) {
		return nextLink("settings_list", map[string]any{
			"setting_responses": []any{map[string]any{
				"key":           "user_identifier",
				"response_data": map[string]any{"text_data": map[string]any{"result": acc.Username}},
			}},
		}), nil
	},
	"LoginEnterPassword": func(acc *Account, _ string) (map[string]any, error) {
		return nextLink("enter_password", map[string]any{"password": acc.Password}), nil
	},
	"LoginEnterAlternateIdentifierSubtask": func(acc *Account, _ string) (map[string]any, error) {
		return nextLink("enter_text", map[string]any{"text": acc.Username}), nil
	},
	"LoginTwoFactorAuthChallenge": func(acc *Account, _ string) (map[string]any, error) {
		if acc.TOTPSecret == "" {
			return nil, fmt.Errorf("2FA required but no TOTP secret for %s", acc.Username)
		}
		code, err := totp.GenerateCode(acc.TOTPSecret, time.Now())
		if err != nil {
			return nil, fmt.Errorf("TOTP code generation failed for %s: %w", acc.Username, err)
		}
		slog.Info("submitting TOTP code", slog.String("user", acc.Username))
		return nextLink("enter_text", map[string]any{"text": code}), nil
	},
}

// login performs Twitter's multi-step onboarding login flow.
func (c *Client) login(ctx context.Context, acc *Account, bc *stealth.BrowserClient) error {
	slog.Info("logging in", slog.String("user", acc.Username))

	guestToken, err := c.acquireGuestToken(ctx, bc)
	if err != nil {
		return fmt.Errorf("get guest token: %w", err)
	}
	flow := &loginFlow{bc: bc, guestToken: guestToken}
	if err := flow.post(onboardingURL+"?flow_name=login", loginInitPayload); err != nil {
		return fmt.Errorf("init login flow: %w", err)
	}

loop:
	for range maxLoginRounds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(flow.subtasks) == 0 {
			break
		}
		subtaskID := flow.subtasks[0]
		slog.Debug("login subtask", slog.String("user", acc.Username), slog.String("subtask", subtaskID))

		var input map[string]any
		switch subtaskID {
		case "LoginSuccessSubtask", "AccountDuplicationCheck":
			break loop
		case "DenyLoginSubtask":
			return fmt.Errorf("login denied for %s (account may be locked or disabled)", acc.Username)
		case "LoginArkoseChallenge", "LoginArkoseCaptcha", "LoginEnterRecaptcha":
			return fmt.Errorf("%s: %w", acc.Username, errCaptchaRequired)
		default:
			step, known := loginSteps[subtaskID]
			if !known {
				slog.Warn("unknown login subtask, skipping", slog.String("user", acc.Username), slog.String("subtask", subtaskID))
				step = func(*Account, string) (map[string]any, error) { return nextLink("action_list", nil), nil }
			}
			if input, err = step(acc, subtaskID); err != nil {
				return err
			}
		}

		input["subtask_id"] = subtaskID
		payload, err := json.Marshal(map[string]any{
			"flow_token":     flow.token,
			"subtask_inputs": []any{input},
		})
		if err != nil {
			return err
		}
		if err := flow.post(onboardingURL, payload); err != nil {
			return fmt.Errorf("login subtask %s for %s: %w", subtaskID, acc.Username, err)
		}
	}

	authToken := cookieValue(bc, "auth_token")
	if authToken == "" {
		return fmt.Errorf("login completed but no auth_token in cookies for %s", acc.Username)
	}
	ct0 := cookieValue(bc, "ct0")
	if ct0 == "" {
		ct0 = GenerateCT0()
	}
	acc.SetCredentials(authToken, ct0)
	slog.Info("login successful", slog.String("user", acc.Username))
	return nil
}

// post submits one onboarding request and advances the flow state.
func (f *loginFlow) post(url string, payload []byte) error {
	body, _, status, err := f.bc.DoWithHeaderOrder("POST", url,
		loginFlowHeaders(f.guestToken, ""), bytes.NewReader(payload), twitterHeaderOrder)
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("flow step HTTP %d: %s", status, truncateBytes(body, 300))
	}
	token := gjson.GetBytes(body, "flow_token").String()
	if token == "" {
		return fmt.Errorf("empty flow_token in response: %s", truncateBytes(body, 200))
	}
	f.token = token
	f.subtasks = f.subtasks[:0]
	for _, st := range gjson.GetBytes(body, "subtasks.#.subtask_id").Array() {
		f.subtasks = append(f.subtasks, st.String())
	}
	return nil
}

// cookieValue looks a cookie up on both API hosts.
func cookieValue(bc *stealth.BrowserClient, name string) string {
	if v := bc.GetCookieValue(twitterAPIURL, name); v != "" {
		return v
	}
	return bc.GetCookieValue("https://twitter.com", name)
}

// getGuestToken activates a fresh guest token.
func getGuestToken(bc *stealth.BrowserClient) (string, error) {
	headers := map[string]string{
		"authorization": "Bearer " + BearerToken,
		"content-type":  "application/json",
		"user-agent":    defaultUserAgent,
	}
	body, _, status, err := bc.DoWithHeaderOrder("POST", guestActivateURL, headers, nil, twitterHeaderOrder)
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", fmt.Errorf("guest token: HTTP %d", status)
	}
	token := gjson.GetBytes(body, "guest_token").String()
	if token == "" {
		return "", errors.New("empty guest token in response")
	}
	return token, nil
}

// acquireGuestToken fetches a fresh guest token with exponential backoff.
func (c *Client) acquireGuestToken(ctx context.Context, bc *stealth.BrowserClient) (string, error) {
	backoff := stealth.BackoffConfig{
		InitialWait: 2 * time.Second,
		MaxWait:     60 * time.Second,
		Multiplier:  2.0,
		JitterPct:   0.3,
	}
	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff.Duration(attempt)):
			}
		}
		token, err := getGuestToken(bc)
		if err == nil {
			return token, nil
		}
		lastErr = err
		slog.Warn("guest token acquisition failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return "", fmt.Errorf("acquire guest token after 3 attempts: %w", lastErr)
}

var loginInitPayload = []byte(`{"input_flow_data":{"flow_context":{"debug_overrides":{},"start_location":{"location":"splash_screen"}}},"subtask_versions":{"action_list":2,"alert_dialog":1,"app_download_cta":1,"check_logged_in_account":1,"choice_selection":3,"contacts_live_sync_permission_prompt":0,"cta":7,"email_verification":2,"end_flow":1,"enter_date":1,"enter_email":2,"enter_password":5,"enter_phone":2,"enter_recaptcha":1,"enter_text":5,"enter_username":2,"generic_urt":3,"in_app_notification":1,"interest_picker":3,"js_instrumentation":1,"menu_dialog":1,"notifications_permission_prompt":2,"open_account":2,"open_home_timeline":1,"open_link":1,"phone_verification":4,"privacy_options":1,"security_key":3,"select_avatar":4,"select_banner":2,"settings_list":7,"show_code":1,"sign_up":2,"sign_up_review":4,"tweet_selection_urt":1,"update_users":1,"upload_media":1,"user_recommendations_list":4,"user_recommendations_urt":1,"wait_spinner":3,"web_modal":1}}`)
