package storage

import "testing"

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		conn     string
		addr     string
		password string
		tls      bool
	}{
		{name: "url", conn: "redis://:secret@localhost:6380/0", addr: "localhost:6380", password: "secret"},
		{name: "azure", conn: "cache.example.net:6380,password=p=w,ssl=True,abortConnect=False", addr: "cache.example.net:6380", password: "p=w", tls: true},
		{name: "plain", conn: "localhost:6379", addr: "localhost:6379"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := RedisOptions(tt.conn)
			if opts.Addr != tt.addr || opts.Password != tt.password {
				t.Fatalf("unexpected options: %s %s", opts.Addr, opts.Password)
			}
			if (opts.TLSConfig != nil) != tt.tls {
				t.Fatalf("unexpected tls config: %v", opts.TLSConfig)
			}
		})
	}
}
