// Package rgw is a client for the RADOS Gateway administrative API and the
// separate rate-limit administration channel. Requests are signed with the
// fixed operator credential pair.
package rgw

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ceph/go-ceph/rgw/admin"
	"github.com/minio/minio-go/v7/pkg/signer"

	"github.com/eteran/granary/internal/store"
)

// Config describes one administrative endpoint.
type Config struct {
	// Endpoint is the base URL of the admin API, e.g. http://rgw:7480/admin.
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Transport http.RoundTripper
}

func (cfg Config) validate() (*url.URL, error) {
	baseURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse admin endpoint %q: %w", cfg.Endpoint, err)
	}
	if (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		return nil, fmt.Errorf("admin endpoint %q: expected an http(s) URL", cfg.Endpoint)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("admin credentials must not be empty")
	}
	return baseURL, nil
}

func (cfg Config) httpClient() *http.Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{Transport: transport}
}

// AdminClient exposes the user, sub-user, key, quota and bucket sections of
// the admin API.
type AdminClient struct {
	api *admin.API
}

// NewAdminClient validates cfg and returns a client. No request is sent.
func NewAdminClient(cfg Config) (*AdminClient, error) {
	baseURL, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	// go-ceph appends /admin itself and wants the gateway root.
	root := *baseURL
	root.Path = strings.TrimSuffix(strings.TrimSuffix(root.Path, "/"), "/admin")
	root.RawQuery = ""

	api, err := admin.New(root.String(), cfg.AccessKey, cfg.SecretKey, cfg.httpClient())
	if err != nil {
		return nil, fmt.Errorf("create admin client: %w", err)
	}
	return &AdminClient{api: api}, nil
}

// mapError translates go-ceph errors into the store error taxonomy. The
// gateway's error code is the first word of the error text.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, admin.ErrNoSuchUser) || errors.Is(err, admin.ErrNoSuchBucket) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	code, _, _ := strings.Cut(strings.TrimSpace(err.Error()), " ")
	if sentinel := codeError(code); sentinel != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return fmt.Errorf("%w: %w", store.ErrRemote, err)
}

// codeError maps a gateway error code to a store sentinel, or nil.
func codeError(code string) error {
	switch code {
	case "NoSuchUser", "NoSuchBucket", "NoSuchKey", "NoSuchSubUser", "InvalidAccessKeyId":
		return store.ErrNotFound
	case "UserAlreadyExists", "KeyExists", "EmailExists", "SubuserExists", "BucketAlreadyExists":
		return store.ErrAlreadyExists
	case "InvalidArgument", "InvalidAccess", "InvalidKeyType", "InvalidSecretKey", "InvalidQuotaScope":
		return store.ErrInvalidArgument
	}
	return nil
}

// signedClient sends SigV4-signed requests below a base URL. It serves the
// rate-limit channel, which go-ceph does not cover.
type signedClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	accessKey  string
	secretKey  string
	region     string
}

func newSignedClient(cfg Config) (*signedClient, error) {
	baseURL, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	return &signedClient{
		httpClient: cfg.httpClient(),
		baseURL:    baseURL,
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		region:     region,
	}, nil
}

// doRequest signs and sends a request to path below the base URL. Responses
// other than 200 are decoded into the store error taxonomy and the body is
// closed; on success the caller owns the body.
func (c *signedClient) doRequest(ctx context.Context,
	method string,
	path string,
	params url.Values,
) (*http.Response, error) {
	requestURL := c.baseURL.JoinPath(path)

	query := url.Values{}
	for k, values := range params {
		query[k] = append(query[k], values...)
	}
	query.Set("format", "json")
	requestURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, requestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create admin request: %w", err)
	}

	emptySum := sha256.Sum256(nil)
	req.Header.Set("X-Amz-Content-Sha256", hex.EncodeToString(emptySum[:]))
	req = signer.SignV4(*req, c.accessKey, c.secretKey, "", c.region)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", store.ErrRemote, method, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// call sends a request and decodes a JSON response into T.
func call[T any](ctx context.Context, c *signedClient, method string, path string, params url.Values) (T, error) {
	var result T

	resp, err := c.doRequest(ctx, method, path, params)
	if err != nil {
		return result, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode admin response: %w", err)
	}
	return result, nil
}

// exec sends a request whose response body is not needed.
func (c *signedClient) exec(ctx context.Context, method string, path string, params url.Values) error {
	resp, err := c.doRequest(ctx, method, path, params)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var result errorResponse
	_ = json.Unmarshal(body, &result)

	code := result.Code
	if code == "" {
		code = strings.TrimSpace(string(body))
	}
	detail := fmt.Sprintf("status %d: %s", resp.StatusCode, code)

	if sentinel := codeError(result.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, detail)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", store.ErrNotFound, detail)
	}
	return fmt.Errorf("%w: %s", store.ErrRemote, detail)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
