package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"livekit-feed/internal/feed"
	"livekit-feed/internal/feederr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	c := New(server.Client(), 1000, 10)
	c.baseURL = server.URL
	return c, server.Close
}

func TestDiscoverSuccess(t *testing.T) {
	c, close := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"message":"0","data":{"host_list":[{"host":"broadcastlv.chat.bilibili.com","port":2243,"ws_port":2244,"wss_port":443}],"token":"abc"}}`)
	})
	defer close()

	info, err := c.Discover(context.Background(), feed.RoomID(123))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if info.Token != "abc" || len(info.HostList) != 1 {
		t.Fatalf("unexpected info: %#v", info)
	}
	if info.HostList[0].WSSURL() != "wss://broadcastlv.chat.bilibili.com:443/sub" {
		t.Fatalf("unexpected WSSURL: %s", info.HostList[0].WSSURL())
	}
}

func TestDiscoverHTTP412(t *testing.T) {
	c, close := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	defer close()

	_, err := c.Discover(context.Background(), feed.RoomID(1))
	var target *feederr.RateLimited
	if !errors.As(err, &target) || target.Source != feederr.RateLimitHTTP412 {
		t.Fatalf("got %v, want RateLimited{HTTP412}", err)
	}
}

func TestDiscoverAPICode412(t *testing.T) {
	c, close := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":412,"message":"rate limited","data":{}}`)
	})
	defer close()

	_, err := c.Discover(context.Background(), feed.RoomID(1))
	var target *feederr.RateLimited
	if !errors.As(err, &target) || target.Source != feederr.RateLimitAPICode412 {
		t.Fatalf("got %v, want RateLimited{APICode412}", err)
	}
}

func TestDiscoverAPICodeNeg412(t *testing.T) {
	c, close := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":-412,"message":"rate limited","data":{}}`)
	})
	defer close()

	_, err := c.Discover(context.Background(), feed.RoomID(1))
	var target *feederr.RateLimited
	if !errors.As(err, &target) || target.Source != feederr.RateLimitAPICodeNeg412 {
		t.Fatalf("got %v, want RateLimited{APICodeNeg412}", err)
	}
}

func TestDiscoverAPIFailure(t *testing.T) {
	c, close := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":1,"message":"room not found","data":{}}`)
	})
	defer close()

	_, err := c.Discover(context.Background(), feed.RoomID(1))
	var target *feederr.APIFailure
	if !errors.As(err, &target) || target.Code != 1 {
		t.Fatalf("got %v, want APIFailure{Code:1}", err)
	}
}

func TestDiscoverRetrySucceedsAfterFiveRateLimits(t *testing.T) {
	attempts := 0
	c, close := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 5 {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		fmt.Fprint(w, `{"code":0,"message":"0","data":{"host_list":[{"host":"h","wss_port":1}],"token":"t"}}`)
	})
	defer close()

	var lastErr error
	for i := 0; i < 6; i++ {
		_, err := c.Discover(context.Background(), feed.RoomID(1))
		lastErr = err
		if err == nil {
			break
		}
	}
	if lastErr != nil {
		t.Fatalf("expected success on 6th attempt, got %v", lastErr)
	}
	if attempts != 6 {
		t.Fatalf("got %d attempts, want 6", attempts)
	}
}
