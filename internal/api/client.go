package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/staging"
)

type Config struct {
	BaseURL            string
	Username           string
	Password           string
	Timeout            time.Duration
	UploadTimeout      time.Duration
	InitialImageBudget int
	RequestsPerMinute  int
	Identities         []string
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:            30 * time.Second,
		UploadTimeout:      60 * time.Second,
		InitialImageBudget: 2,
		RequestsPerMinute:  60,
	}
}

// Existence is the answer of the by-reference lookup that routes a product
// into the create or update flow.
type Existence struct {
	Found    bool
	RemoteID int64
	Raw      json.RawMessage
}

// UploadResult reports a successful create or update, including how the
// image budget was split.
type UploadResult struct {
	RemoteID        int64
	InitialImages   int
	RemainingImages []string
}

// Client talks to the remote content-management API. All calls share one
// session (token + identity) and one global request limiter; multipart
// bodies are built in memory so a 401 can be answered with a re-auth and a
// single resend.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	uploadHTTP *http.Client
	session    *Session
	stager     *staging.Stager
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewClient(cfg *Config, stager *staging.Stager) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 60 * time.Second
	}
	if cfg.InitialImageBudget == 0 {
		cfg.InitialImageBudget = 2
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		uploadHTTP: &http.Client{Timeout: cfg.UploadTimeout},
		session:    NewSession(cfg.Identities),
		stager:     stager,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:     slog.Default().With("component", "api_client"),
	}
}

func (c *Client) Session() *Session { return c.session }

func (c *Client) InitialImageBudget() int { return c.cfg.InitialImageBudget }

// Authenticate fetches a fresh bearer token and caches it for 24h. Refresh
// is on demand only; there is no background renewal.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return fmt.Errorf("api credentials not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"user_email": c.cfg.Username,
		"user_pass":  c.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/usuario/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.session.Identity())

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	if body.Token == "" {
		return fmt.Errorf("auth response carried no token")
	}

	c.session.SetToken(body.Token)
	c.logger.Info("authenticated", "token_prefix", body.Token[:min(8, len(body.Token))])
	return nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	if _, ok := c.session.Token(); ok {
		return nil
	}
	return c.Authenticate(ctx)
}

// Exists looks a product up by reference. A 404 is the canonical not-found
// signal. Every other failure degrades to not-found with a warning: the
// pipeline prefers a duplicate-creation risk over stalling.
func (c *Client) Exists(ctx context.Context, reference string) Existence {
	if err := c.ensureToken(ctx); err != nil {
		c.logger.Warn("existence check skipped, auth failed; assuming not found",
			"reference", reference, "error", err)
		return Existence{}
	}

	resp, err := c.send(ctx, c.httpClient, http.MethodGet,
		c.cfg.BaseURL+"/produto/referencia/"+reference, nil, "")
	if err != nil {
		c.logger.Warn("existence check failed, assuming not found (duplicate creation risk)",
			"reference", reference, "error", err)
		return Existence{}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Existence{}
	}
	if resp.StatusCode != http.StatusOK {
		err := c.apiError(resp)
		c.logger.Warn("existence check failed, assuming not found (duplicate creation risk)",
			"reference", reference, "error", err)
		return Existence{}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("existence check body unreadable, assuming not found",
			"reference", reference, "error", err)
		return Existence{}
	}

	var body struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.ID == 0 {
		c.logger.Warn("existence check returned unparseable product, assuming not found",
			"reference", reference)
		return Existence{}
	}

	return Existence{Found: true, RemoteID: body.ID, Raw: raw}
}

// CreateProduct sends a new product in one multipart request carrying at
// most the initial image budget; the remainder is returned for deferred
// transmission. Small initial bodies keep the request under the server's
// defense-heuristic threshold while still creating a valid product.
func (c *Client) CreateProduct(ctx context.Context, rec *models.ProductRecord) (*UploadResult, error) {
	return c.upload(ctx, http.MethodPost, c.cfg.BaseURL+"/produto", rec)
}

// UpdateProduct resends the full known state of an existing product, images
// again capped at the initial budget.
func (c *Client) UpdateProduct(ctx context.Context, remoteID int64, rec *models.ProductRecord) (*UploadResult, error) {
	url := fmt.Sprintf("%s/produto/%d", c.cfg.BaseURL, remoteID)
	res, err := c.upload(ctx, http.MethodPut, url, rec)
	if err != nil {
		return nil, err
	}
	if res.RemoteID == 0 {
		res.RemoteID = remoteID
	}
	return res, nil
}

func (c *Client) upload(ctx context.Context, method, url string, rec *models.ProductRecord) (*UploadResult, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	budget := c.cfg.InitialImageBudget
	initial := rec.Images
	var remaining []string
	if len(initial) > budget {
		initial, remaining = initial[:budget], initial[budget:]
	}

	staged := make([]*models.StagedImage, 0, len(initial))
	defer func() { c.stager.ReleaseAll(staged) }()

	for i, imageURL := range initial {
		img, err := c.stager.Stage(ctx, imageURL, fmt.Sprintf("%s_%d", rec.Reference, i))
		if err != nil {
			c.logger.Warn("initial image skipped", "reference", rec.Reference,
				"url", imageURL, "error", err)
			continue
		}
		staged = append(staged, img)
	}
	if len(rec.Images) > 0 && len(staged) == 0 {
		return nil, ErrNoValidImages
	}

	colorStaged := c.stageColorImages(ctx, rec)
	defer func() {
		for _, img := range colorStaged {
			c.stager.Release(img)
		}
	}()

	body, contentType, err := c.buildProductForm(rec, staged, colorStaged)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, c.uploadHTTP, method, url, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.apiError(resp)
	}

	var respBody struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}

	return &UploadResult{
		RemoteID:        respBody.ID,
		InitialImages:   len(staged),
		RemainingImages: remaining,
	}, nil
}

// UpdateImages sends one deferred batch of already-staged images to an
// existing product.
func (c *Client) UpdateImages(ctx context.Context, remoteID int64, staged []*models.StagedImage) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, img := range staged {
		if err := c.stager.Attach(w, fmt.Sprintf("imagens[%d]", i), img); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize image form: %w", err)
	}

	url := fmt.Sprintf("%s/produto/%d", c.cfg.BaseURL, remoteID)
	resp, err := c.send(ctx, c.uploadHTTP, http.MethodPut, url, buf.Bytes(), w.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Statistics fetches the diagnostic payload, used for the connectivity
// self-test.
func (c *Client) Statistics(ctx context.Context) (json.RawMessage, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, c.httpClient, http.MethodGet, c.cfg.BaseURL+"/estatisticas", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	return io.ReadAll(resp.Body)
}

// TestConnection authenticates and pulls statistics once.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.Authenticate(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	if _, err := c.Statistics(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	c.logger.Info("api connection established")
	return nil
}

func (c *Client) stageColorImages(ctx context.Context, rec *models.ProductRecord) map[int]*models.StagedImage {
	out := make(map[int]*models.StagedImage)
	for i, color := range rec.Colors {
		if color.Kind != models.ColorKindImage || color.SourceURL == "" {
			continue
		}
		img, err := c.stager.Stage(ctx, color.SourceURL, fmt.Sprintf("cor_%s_%d", rec.Reference, i))
		if err != nil {
			c.logger.Warn("color swatch staging failed, sending as code",
				"reference", rec.Reference, "color", color.Name, "error", err)
			continue
		}
		out[i] = img
	}
	return out
}

func (c *Client) buildProductForm(rec *models.ProductRecord, staged []*models.StagedImage, colorStaged map[int]*models.StagedImage) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	w.WriteField("referencia", rec.Reference)
	w.WriteField("nome", rec.Name)
	w.WriteField("descricao", rec.Description)
	if rec.Price != nil {
		w.WriteField("preco", strconv.FormatFloat(*rec.Price, 'f', 2, 64))
	}
	if rec.ExtraInfo != "" {
		w.WriteField("informacoes_adicionais", rec.ExtraInfo)
	}
	for i, cat := range rec.Categories {
		w.WriteField(fmt.Sprintf("categorias[%d]", i), cat)
	}

	for i, color := range rec.Colors {
		prefix := fmt.Sprintf("cores[%d]", i)
		w.WriteField(prefix+"[nome]", color.Name)

		img, hasImage := colorStaged[i]
		if color.Kind == models.ColorKindImage && hasImage {
			w.WriteField(prefix+"[tipo]", string(models.ColorKindImage))
			// Swatch files travel under a color-indexed field, separate
			// from the product images field.
			if err := c.stager.Attach(w, fmt.Sprintf("imagem_cor_%d", i), img); err != nil {
				return nil, "", err
			}
		} else {
			w.WriteField(prefix+"[tipo]", string(models.ColorKindCode))
			w.WriteField(prefix+"[codigo]", color.Code)
		}
		if color.NumericCode != "" {
			w.WriteField(prefix+"[codigo_numerico]", color.NumericCode)
		}
	}

	for i, img := range staged {
		if err := c.stager.Attach(w, fmt.Sprintf("imagens[%d]", i), img); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize product form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// send issues one authorized request. On a 401 it re-authenticates and
// resends exactly once; bodies are byte slices so the resend is safe.
func (c *Client) send(ctx context.Context, client *http.Client, method, url string, body []byte, contentType string) (*http.Response, error) {
	resp, err := c.doOnce(ctx, client, method, url, body, contentType)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.logger.Warn("token rejected, re-authenticating")
		c.session.Invalidate()
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		return c.doOnce(ctx, client, method, url, body, contentType)
	}

	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, client *http.Client, method, url string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token, ok := c.session.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", c.session.Identity())

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) apiError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &body) == nil {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
	}

	return apiErr
}
