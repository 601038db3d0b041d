package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kevinxiao27/wavesync/internal/cc"
	"github.com/kevinxiao27/wavesync/internal/config"
	"github.com/kevinxiao27/wavesync/internal/logging"
	"github.com/kevinxiao27/wavesync/internal/metrics"
	"github.com/kevinxiao27/wavesync/internal/replica"
	"github.com/kevinxiao27/wavesync/internal/transport"
	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/wavelet"
)

const usage = `commands:
  i <pos> <text>   insert text
  d <pos> <n>      delete n bytes
  doc <name>       switch document
  add <author>     add a participant
  rm <author>      remove a participant
  p                print the document
  info             print unsaved work
  q                quit
`

type session struct {
	r   *replica.Replica
	doc string
	out io.Writer
}

// exec runs one command line against the replica.
func (s *session) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	atoi := func(i int) (int, error) {
		if len(fields) <= i {
			return 0, errors.Errorf("%s: missing argument", fields[0])
		}
		return strconv.Atoi(fields[i])
	}
	switch fields[0] {
	case "i":
		pos, err := atoi(1)
		if err != nil {
			return err
		}
		text := strings.Join(fields[2:], " ")
		if text == "" {
			return errors.New("i: missing text")
		}
		return s.r.Insert(s.doc, pos, text)
	case "d":
		pos, err := atoi(1)
		if err != nil {
			return err
		}
		n, err := atoi(2)
		if err != nil {
			return err
		}
		return s.r.Delete(s.doc, pos, n)
	case "doc":
		if len(fields) < 2 {
			return errors.New("doc: missing name")
		}
		s.doc = fields[1]
	case "add", "rm":
		if len(fields) < 2 {
			return errors.Errorf("%s: missing author", fields[0])
		}
		if fields[0] == "add" {
			return s.r.AddParticipant(types.Author(fields[1]))
		}
		return s.r.RemoveParticipant(types.Author(fields[1]))
	case "p":
		fmt.Fprintf(s.out, "%s: %q\n", s.doc, s.r.Text(s.doc))
	case "info":
		fmt.Fprintln(s.out, s.r.Control().UnsavedData().Info())
	default:
		fmt.Fprint(s.out, usage)
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	url := flag.String("url", "", "server websocket URL, overrides the config")
	author := flag.String("author", "", "author name, overrides the config")
	metricsAddr := flag.String("metrics", "", "serve client metrics on this address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(os.Stderr, config.Default().Log).Log("msg", "loading config", "err", err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Client.URL = *url
	}
	if *author != "" {
		cfg.Client.Author = *author
	}
	if cfg.Client.Author == "" {
		cfg.Client.Author = uuid.NewString()
	}
	logger := logging.New(os.Stderr, cfg.Log)

	var opts []cc.Option
	if *metricsAddr != "" {
		opts = append(opts, cc.WithUnsavedDataListener(metrics.NewUnsavedGauges(metrics.NewClient(true), logger)))
		go func() {
			err := http.ListenAndServe(*metricsAddr, promhttp.Handler())
			level.Error(logger).Log("msg", "serving metrics", "err", err)
		}()
	}

	r := replica.New(logger, types.Author(cfg.Client.Author), types.InitialVersion(cfg.Server.Wavelet), opts...)
	client := transport.NewClient(logger, cfg.Client.URL, cfg.Client.Reconnect, r.Control())
	if err := r.Attach(client); err != nil {
		level.Error(logger).Log("msg", "attaching replica", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	level.Info(logger).Log("msg", "client starting", "author", cfg.Client.Author, "url", cfg.Client.URL)
	go prompt(ctx, logger, client, &session{r: r, doc: cfg.Client.Document, out: os.Stdout}, stop)

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		level.Error(logger).Log("msg", "client stopped", "err", err)
		os.Exit(1)
	}
}

func prompt(ctx context.Context, logger log.Logger, client *transport.Client, s *session, quit func()) {
	defer quit()
	fmt.Fprint(s.out, usage)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "q" {
			return
		}
		err := client.Do(ctx, func(*cc.Control[wavelet.Op]) error { return s.exec(line) })
		if errors.Is(err, transport.ErrStopped) || errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			level.Warn(logger).Log("msg", "command failed", "line", line, "err", err)
		}
	}
}
