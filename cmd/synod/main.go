package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/gin-gonic/gin"

	"cs.umass.edu/synod/internal/server"
	"cs.umass.edu/synod/internal/system"
)

type args struct {
	id       int
	failures int
	mode     string
	basePort int
	steps    int
	seed     int64
	keys     int
	verbose  bool
}

// handle args given by user
func parseArgs() (args, error) {
	var (
		nodeID   = flag.Int("id", 0, "Synod host id, in [0, 2*failures]")
		failures = flag.Int("failures", 1, "Number of tolerated failures; the cluster has 2*failures+1 hosts")
		mode     = flag.String("mode", "serve", "Run mode.\nValid modes: serve,simulate.\n")
		basePort = flag.Int("base-port", 9800, "Host i listens on 127.0.0.1:base-port+i")
		steps    = flag.Int("steps", 2000, "Random steps to take in simulate mode")
		seed     = flag.Int64("seed", 1, "Scheduler seed in simulate mode")
		keys     = flag.Int("keys", 2, "Number of instances to run in simulate mode")
		verbose  = flag.Bool("v", false, "Log every protocol step")
	)

	flag.Parse()
	a := args{
		id:       *nodeID,
		failures: *failures,
		mode:     *mode,
		basePort: *basePort,
		steps:    *steps,
		seed:     *seed,
		keys:     *keys,
		verbose:  *verbose,
	}
	if a.failures <= 0 {
		return a, fmt.Errorf("failures should be greater than zero (%d)", a.failures)
	}
	if a.id < 0 || a.id > 2*a.failures {
		return a, fmt.Errorf(
			"host id should be in [0, %d] (%d)",
			2*a.failures, a.id,
		)
	}
	if a.mode != "serve" && a.mode != "simulate" {
		return a, fmt.Errorf(
			"wrong mode given (%s), valid modes are 'serve' and 'simulate'",
			a.mode,
		)
	}
	if a.keys <= 0 || a.steps < 0 {
		return a, fmt.Errorf("keys should be positive and steps non-negative")
	}
	return a, nil
}

func main() {
	fmt.Println(":: multi-instance synod ::")

	a, err := parseArgs()
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	protoLogger := logger
	if !a.verbose {
		protoLogger = log.New(ioutil.Discard, "", 0)
	}

	switch a.mode {
	case "serve":
		err = serve(a, logger, protoLogger)
	case "simulate":
		err = simulate(a, protoLogger)
	}
	if err != nil {
		logger.Println(err)
		os.Exit(1)
	}
}

func serve(a args, logger, protoLogger *log.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	if !a.verbose {
		gin.DefaultWriter = ioutil.Discard
	}

	peers := server.LocalPeers(a.basePort, 2*a.failures+1)
	node, err := server.NewNode(server.Config{
		ID:          a.id,
		NumFailures: a.failures,
		Peers:       peers,
		Logger:      protoLogger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", a.basePort+a.id)
	logger.Printf("host %d serving at %s", a.id, addr)
	return node.ListenAndServe(ctx, addr)
}

func simulate(a args, protoLogger *log.Logger) error {
	sys, err := system.New(a.failures, system.WithLogger(protoLogger))
	if err != nil {
		return err
	}
	keys := make([]uint64, a.keys)
	for i := range keys {
		keys[i] = uint64(i)
	}

	st, err := system.NewScheduler(sys, a.seed, keys).Run(context.Background(), a.steps)
	if err != nil {
		return fmt.Errorf("after %d steps: %w", st.Steps, err)
	}
	fmt.Printf("steps=%d fired=%d messages=%d\n", st.Steps, st.Fired, st.Messages)

	for _, k := range keys {
		sys.Settle(k)
	}
	if err := sys.CheckSafety(); err != nil {
		return err
	}

	announced := sys.Announced()
	ids := make([]uint64, 0, len(announced))
	for k := range announced {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, k := range ids {
		fmt.Printf("instance %d: %q\n", k, announced[k])
	}
	fmt.Println("safety: ok")
	return nil
}
