// Package uci implements the operator protocol: a line-oriented, UCI-style
// command loop driving the engine and its transposition table.
package uci

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hailam/ttcache/internal/engine"
	"github.com/hailam/ttcache/internal/storage"
	"github.com/hailam/ttcache/internal/tt"
)

// Option limits advertised by the "uci" command.
const (
	MaxHashMB  = 33554432
	MaxThreads = 1024
)

// Store persists options changed through setoption and bench results.
type Store interface {
	SaveOptions(opts *storage.Options) error
	RecordBench(run storage.BenchRun) (*storage.BenchStats, error)
}

// UCI implements the operator protocol.
type UCI struct {
	engine *engine.Engine
	store  Store

	// Current root and the number of moves played from the start key
	root  uint64
	moves int

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	outMu  sync.Mutex

	// Search state, owned by the command loop
	searchDone chan struct{}

	// CPU profiling
	profileFile *os.File
}

// New creates a new protocol handler reading stdin and writing stdout.
func New(eng *engine.Engine) *UCI {
	return &UCI{
		engine: eng,
		root:   engine.StartKey,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// SetIO replaces the protocol streams.
func (u *UCI) SetIO(in io.Reader, out, errOut io.Writer) {
	u.in = in
	u.out = out
	u.errOut = errOut
}

// SetStore attaches a store for option persistence.
func (u *UCI) SetStore(s Store) {
	u.store = s
}

// Run starts the main loop. It returns after "quit" or at end of input, once
// any running search has been stopped.
func (u *UCI) Run() {
	scanner := bufio.NewScanner(u.in)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "uci":
			u.handleUCI()
		case "isready":
			u.send("readyok")
		case "ucinewgame":
			u.handleNewGame()
		case "position":
			u.handlePosition(args)
		case "go":
			u.handleGo(args)
		case "stop":
			u.handleStop()
		case "quit":
			u.handleQuit()
			return
		case "setoption":
			u.handleSetOption(args)
		case "bench":
			u.handleBench(args)
		// Debug commands
		case "hashfull":
			u.send("info hashfull %d", u.engine.HashFull())
		case "d":
			u.send("key 0x%016x moves %d", u.root, u.moves)
		default:
			u.infoString("Unknown command: %s", line)
		}
	}

	u.handleQuit()
}

// send writes one protocol line to the output.
func (u *UCI) send(format string, args ...any) {
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintf(u.out, format+"\n", args...)
}

// infoString writes a diagnostic to the error stream.
func (u *UCI) infoString(format string, args ...any) {
	u.outMu.Lock()
	defer u.outMu.Unlock()
	fmt.Fprintf(u.errOut, "info string "+format+"\n", args...)
}

// handleUCI responds to the "uci" command.
func (u *UCI) handleUCI() {
	u.send("id name ttcache")
	u.send("id author ttcache developers")
	u.send("")
	u.send("option name Hash type spin default %d min 1 max %d", engine.DefaultHashMB, MaxHashMB)
	u.send("option name Threads type spin default %d min 1 max %d", engine.DefaultThreads, MaxThreads)
	u.send("option name Clear Hash type button")
	u.send("uciok")
}

// handleNewGame resets the engine for a new game.
func (u *UCI) handleNewGame() {
	u.handleStop()
	u.engine.Clear()
	u.root = engine.StartKey
	u.moves = 0
}

// handlePosition parses and sets up a position.
// Formats:
//   - position startpos
//   - position startpos moves 3 11 7
//   - position key <key>
//   - position key <key> moves 3 11
//
// Keys accept a 0x prefix for hexadecimal. Moves are numbers in [1, Branching].
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	var root uint64
	var moveStart int

	switch args[0] {
	case "startpos":
		root = engine.StartKey
		moveStart = 1
	case "key":
		if len(args) < 2 {
			u.infoString("Missing position key")
			return
		}
		key, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			u.infoString("Invalid key: %v", err)
			return
		}
		root = key
		moveStart = 2
	default:
		u.infoString("Invalid position: %s", strings.Join(args, " "))
		return
	}

	moves := 0
	if moveStart < len(args) && args[moveStart] == "moves" {
		for _, moveStr := range args[moveStart+1:] {
			m, ok := parseMove(moveStr)
			if !ok {
				u.infoString("Invalid move: %s", moveStr)
				return
			}
			root = engine.ChildKey(root, m)
			moves++
		}
	}

	u.root = root
	u.moves = moves
}

// parseMove converts a move string to a move number.
func parseMove(moveStr string) (tt.Move, bool) {
	n, err := strconv.Atoi(moveStr)
	if err != nil || n < 1 || n > engine.Branching {
		return tt.MoveNone, false
	}
	return tt.Move(n), true
}

// GoOptions holds parsed "go" command options.
type GoOptions struct {
	Depth     int
	Nodes     uint64
	MoveTime  time.Duration
	Infinite  bool
	WTime     time.Duration
	BTime     time.Duration
	WInc      time.Duration
	BInc      time.Duration
	MovesToGo int
}

// handleGo starts a search with the given parameters.
func (u *UCI) handleGo(args []string) {
	u.handleStop()

	opts := parseGoOptions(args)
	limits := u.calculateLimits(opts)

	// Configure info callback
	u.engine.OnInfo = u.sendInfo

	done := make(chan struct{})
	u.searchDone = done
	result := u.engine.SearchAsync(u.root, limits)

	go func() {
		defer close(done)

		bestMove := <-result
		if bestMove == tt.MoveNone {
			u.infoString("Search returned no move, using fallback")
			bestMove = 1
		}
		u.send("bestmove %d", bestMove)
	}()
}

// parseGoOptions parses "go" command arguments.
func parseGoOptions(args []string) GoOptions {
	opts := GoOptions{}

	millis := func(s string) time.Duration {
		ms, _ := strconv.Atoi(s)
		return time.Duration(ms) * time.Millisecond
	}

	for i := 0; i < len(args); i++ {
		if args[i] == "infinite" {
			opts.Infinite = true
			continue
		}
		if i+1 >= len(args) {
			break
		}

		value := args[i+1]
		switch args[i] {
		case "depth":
			opts.Depth, _ = strconv.Atoi(value)
		case "nodes":
			opts.Nodes, _ = strconv.ParseUint(value, 10, 64)
		case "movetime":
			opts.MoveTime = millis(value)
		case "wtime":
			opts.WTime = millis(value)
		case "btime":
			opts.BTime = millis(value)
		case "winc":
			opts.WInc = millis(value)
		case "binc":
			opts.BInc = millis(value)
		case "movestogo":
			opts.MovesToGo, _ = strconv.Atoi(value)
		default:
			continue
		}
		i++
	}

	return opts
}

// calculateLimits converts GoOptions to engine.SearchLimits.
func (u *UCI) calculateLimits(opts GoOptions) engine.SearchLimits {
	limits := engine.SearchLimits{}

	if opts.Infinite {
		limits.Infinite = true
		return limits
	}

	if opts.Depth > 0 {
		limits.Depth = opts.Depth
	}

	if opts.Nodes > 0 {
		limits.Nodes = opts.Nodes
	}

	if opts.MoveTime > 0 {
		limits.MoveTime = opts.MoveTime
	} else if opts.WTime > 0 || opts.BTime > 0 {
		// Time control - calculate time for this move
		limits.MoveTime = u.calculateTimeForMove(opts)
	}

	return limits
}

// calculateTimeForMove determines how much time to spend on this move. The
// side to move alternates with every move played from the root key.
func (u *UCI) calculateTimeForMove(opts GoOptions) time.Duration {
	ourTime, ourInc := opts.WTime, opts.WInc
	if u.moves%2 == 1 {
		ourTime, ourInc = opts.BTime, opts.BInc
	}

	movesRemaining := opts.MovesToGo
	if movesRemaining <= 0 {
		movesRemaining = 30
	}

	// Base time allocation plus 90% of the increment
	moveTime := ourTime/time.Duration(movesRemaining) + ourInc*90/100

	// Safety: never use more than 90% of remaining time
	moveTime = min(moveTime, ourTime*90/100)
	return max(moveTime, 10*time.Millisecond)
}

// sendInfo outputs search info in UCI format.
func (u *UCI) sendInfo(info engine.SearchInfo) {
	var parts []string

	parts = append(parts, fmt.Sprintf("depth %d", info.Depth))

	// Score
	switch {
	case info.Score >= engine.ValueMateInMaxPly:
		parts = append(parts, fmt.Sprintf("score mate %d", (engine.ValueMate-info.Score+1)/2))
	case info.Score <= engine.ValueMatedInMaxPly:
		parts = append(parts, fmt.Sprintf("score mate %d", -(engine.ValueMate+info.Score)/2))
	default:
		parts = append(parts, fmt.Sprintf("score cp %d", info.Score))
	}

	parts = append(parts, fmt.Sprintf("nodes %d", info.Nodes))
	parts = append(parts, fmt.Sprintf("time %d", info.Time.Milliseconds()))

	// NPS
	if info.Time > 0 {
		nps := uint64(float64(info.Nodes) / info.Time.Seconds())
		parts = append(parts, fmt.Sprintf("nps %d", nps))
	}

	parts = append(parts, fmt.Sprintf("hashfull %d", info.HashFull))

	if len(info.PV) > 0 {
		pv := make([]string, len(info.PV))
		for i, m := range info.PV {
			pv[i] = strconv.Itoa(int(m))
		}
		parts = append(parts, "pv "+strings.Join(pv, " "))
	}

	u.send("info %s", strings.Join(parts, " "))
}

// handleStop stops the current search and waits for its bestmove.
func (u *UCI) handleStop() {
	if u.searchDone != nil {
		u.engine.Stop()
		<-u.searchDone
		u.searchDone = nil
	}
}

// handleQuit stops any search and profiling.
func (u *UCI) handleQuit() {
	u.handleStop()
	u.stopProfile()
}

// handleSetOption processes "setoption" commands.
func (u *UCI) handleSetOption(args []string) {
	// Format: setoption name <name> [value <value>]
	var name, value string
	readingName := false
	readingValue := false

	for _, arg := range args {
		switch arg {
		case "name":
			readingName = true
			readingValue = false
		case "value":
			readingName = false
			readingValue = true
		default:
			if readingName {
				if name != "" {
					name += " "
				}
				name += arg
			} else if readingValue {
				if value != "" {
					value += " "
				}
				value += arg
			}
		}
	}

	// Options must not change under a running search
	u.handleStop()

	switch strings.ToLower(name) {
	case "hash":
		mb, err := strconv.Atoi(value)
		if err != nil || mb < 1 || mb > MaxHashMB {
			u.infoString("Invalid Hash value: %s", value)
			return
		}
		u.engine.SetHashSize(mb)
		clusters := uint64(mb) << 20 / 32
		u.infoString("Hash set to %s (%s clusters)",
			humanize.IBytes(uint64(mb)<<20), humanize.Comma(int64(clusters)))
		u.saveOptions()
	case "threads":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > MaxThreads {
			u.infoString("Invalid Threads value: %s", value)
			return
		}
		u.engine.SetThreads(n)
		u.infoString("Using %d thread%s", n, plural(n))
		u.saveOptions()
	case "clear hash":
		u.engine.Clear()
	case "cpuprofile":
		u.stopProfile()
		// Start new profile if path provided
		if value != "" && value != "stop" {
			u.startProfile(value)
		}
	default:
		u.infoString("Unknown option: %s", name)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// saveOptions persists the current options if a store is attached.
func (u *UCI) saveOptions() {
	if u.store == nil {
		return
	}
	opts := &storage.Options{Hash: u.engine.HashSize(), Threads: u.engine.Threads()}
	if err := u.store.SaveOptions(opts); err != nil {
		u.infoString("Failed to save options: %v", err)
	}
}

// handleBench runs the built-in benchmark. The table keeps its size, but its
// contents are discarded.
func (u *UCI) handleBench(args []string) {
	u.handleStop()

	depth := engine.DefaultBenchDepth
	if len(args) > 0 {
		d, err := strconv.Atoi(args[0])
		if err != nil || d < 1 {
			u.infoString("Invalid bench depth: %s", args[0])
			return
		}
		depth = d
	}

	u.engine.OnInfo = nil
	res := u.engine.Bench(depth)

	u.send("===========================")
	u.send("Total time (ms) : %d", res.Time.Milliseconds())
	u.send("Nodes searched  : %d", res.Nodes)
	u.send("Nodes/second    : %d", res.NPS())
	u.send("Hashfull        : %d", res.HashFull)

	if u.store == nil {
		return
	}
	stats, err := u.store.RecordBench(storage.BenchRun{
		Nodes:   res.Nodes,
		NPS:     res.NPS(),
		HashMB:  u.engine.HashSize(),
		Threads: u.engine.Threads(),
	})
	if err != nil {
		u.infoString("Failed to record bench: %v", err)
		return
	}
	u.infoString("Bench run %d, best %s", stats.Runs, humanize.SIWithDigits(float64(stats.BestNPS), 2, "nps"))
}

func (u *UCI) startProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		u.infoString("Failed to create profile: %v", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		u.infoString("Failed to start profile: %v", err)
		return
	}
	u.profileFile = f
	u.infoString("CPU profiling to %s", path)
}

func (u *UCI) stopProfile() {
	if u.profileFile == nil {
		return
	}
	pprof.StopCPUProfile()
	u.profileFile.Close()
	u.profileFile = nil
	u.infoString("CPU profile saved")
}
