package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"circled/internal/persistence/indexdb"
	persistlog "circled/internal/persistence/log"
	"circled/internal/room"
	"circled/internal/transport/ws"
	"circled/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite session/broadcast index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index backend: %v", err)
		}
		defer idx.Close()
	}

	journal := persistlog.NewBroadcastJournal(*dataDir)
	defer journal.Close()

	ctx, cancel := signalContext()
	defer cancel()

	rooms := room.NewManager(ctx, tune)
	rooms.SetJournal(multiBroadcastLogger{a: journal, b: idx})
	rooms.SetSessionLog(idx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, rooms.List())
	})
	mux.HandleFunc("/v1/rooms", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(rooms.List())
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(rooms, tune.MaxQueue, logger).Handler())

	if envBool("CIRCLED_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func writeMetrics(rw http.ResponseWriter, infos []room.RoomInfo) {
	fmt.Fprintf(rw, "# HELP circled_rooms Number of rooms in this process.\n")
	fmt.Fprintf(rw, "# TYPE circled_rooms gauge\n")
	fmt.Fprintf(rw, "circled_rooms %d\n", len(infos))

	fmt.Fprintf(rw, "# HELP circled_room_connections Currently open connections per room.\n")
	fmt.Fprintf(rw, "# TYPE circled_room_connections gauge\n")
	for _, info := range infos {
		fmt.Fprintf(rw, "circled_room_connections{room=%q} %d\n", info.ID, info.Connections)
	}

	fmt.Fprintf(rw, "# HELP circled_room_circles Circle population size per room.\n")
	fmt.Fprintf(rw, "# TYPE circled_room_circles gauge\n")
	for _, info := range infos {
		fmt.Fprintf(rw, "circled_room_circles{room=%q} %d\n", info.ID, info.Circles)
	}

	fmt.Fprintf(rw, "# HELP circled_room_broadcasts_total Broadcasts emitted per room and kind.\n")
	fmt.Fprintf(rw, "# TYPE circled_room_broadcasts_total counter\n")
	for _, info := range infos {
		fmt.Fprintf(rw, "circled_room_broadcasts_total{room=%q,kind=%q} %d\n", info.ID, "spawn", info.Spawns)
		fmt.Fprintf(rw, "circled_room_broadcasts_total{room=%q,kind=%q} %d\n", info.ID, "despawn", info.Despawns)
		fmt.Fprintf(rw, "circled_room_broadcasts_total{room=%q,kind=%q} %d\n", info.ID, "update", info.Updates)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// multiBroadcastLogger fans broadcasts out to the JSONL journal and the
// sqlite index.
type multiBroadcastLogger struct {
	a room.BroadcastLogger
	b *indexdb.SQLiteIndex
}

func (m multiBroadcastLogger) WriteBroadcast(e room.BroadcastEntry) error {
	if m.a != nil {
		_ = m.a.WriteBroadcast(e)
	}
	_ = m.b.WriteBroadcast(e)
	return nil
}
