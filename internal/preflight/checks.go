package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"geass/internal/blobstore"
)

const checkTimeout = 10 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace reports whether path has at least minFreeMB available.
// Low space is advisory: the upload path rejects individual requests instead.
func CheckFreeSpace(name, path string, minFreeMB int64) Result {
	free, err := blobstore.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("statfs %s: %v", path, err)}
	}
	freeMB := free >> 20
	if minFreeMB > 0 && freeMB < uint64(minFreeMB) {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%d MiB free, below upload.min_free_mb=%d; uploads will be refused", freeMB, minFreeMB)}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("%d MiB free", freeMB)}
}

// CheckRedis verifies the shared rate-limit store answers PING.
func CheckRedis(ctx context.Context, rawURL string) Result {
	const name = "Redis rate limiter"
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid redis url: %v", err)}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client := redis.NewClient(opts)
	defer client.Close()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable: %v", opts.Addr, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", opts.Addr)}
}

// CheckNtfy verifies the ntfy server answers on the topic's host. It sends
// no message; the topic itself is never published to.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy notifications"
	parsed, err := url.Parse(topic)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("invalid topic url: %v", err)}
	}
	healthURL := (&url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/v1/health"}).String()

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("build request: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s timed out", parsed.Host)}
		}
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s unreachable: %v", parsed.Host, err)}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s returned %d", parsed.Host, resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("%s reachable", parsed.Host)}
}
