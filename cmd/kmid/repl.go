package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"biscuit/internal/kapi"
	"biscuit/internal/netstack"
	"biscuit/internal/simfs"
	"biscuit/internal/vma"
)

// replCommands lists the REPL verbs offered by tab completion; `help`
// prints its own usage text.
var replCommands = []string{
	"bind", "unbind", "send", "recv", "mmap", "fault", "munmap",
	"read", "write", "stats", "help", "exit", "quit",
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "interactive shell over the buffer cache, UDP stack, and mmap engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness()
			if err != nil {
				return err
			}
			defer h.Close()
			return runRepl(h, cmd.OutOrStdout())
		},
	}
}

// replState keeps the REPL's history path alongside the harness, the same
// split calvinalkan-agent-task/cmd/sloty/main.go's runner makes between
// cache state and liner bookkeeping.
type replState struct {
	h       *harness
	out     io.Writer
	liner   *liner.State
	history string
}

func runRepl(h *harness, out io.Writer) error {
	r := &replState{h: h, out: out}
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if dir, err := os.UserCacheDir(); err == nil {
		r.history = filepath.Join(dir, "kmid_history")
		if f, err := os.Open(r.history); err == nil {
			r.liner.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Fprintln(out, "kmid repl — type 'help' for commands, 'exit' to quit")
	for {
		line, err := r.liner.Prompt("kmid> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				break
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if r.dispatch(line) {
			break
		}
	}

	if r.history != "" {
		if f, err := os.Create(r.history); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
	return nil
}

func (r *replState) completer(line string) []string {
	var out []string
	for _, c := range replCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// dispatch runs one REPL line and reports whether the REPL should exit.
func (r *replState) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help":
		r.printHelp()
	case "bind":
		r.cmdBind(args)
	case "unbind":
		r.cmdUnbind(args)
	case "send":
		r.cmdSend(args)
	case "recv":
		r.cmdRecv(args)
	case "mmap":
		r.cmdMmap(args)
	case "fault":
		r.cmdFault(args)
	case "munmap":
		r.cmdMunmap(args)
	case "read":
		r.cmdRead(args)
	case "write":
		r.cmdWrite(args)
	case "stats":
		r.cmdStats()
	default:
		fmt.Fprintf(r.out, "unknown command %q (try 'help')\n", cmd)
	}
	return false
}

func (r *replState) printHelp() {
	fmt.Fprint(r.out, `commands:
  bind <port>                      bind a UDP port
  unbind <port>                    release a bound port
  send <ip> <port> <text>          send a UDP datagram over the loopback NIC
  recv <port> [timeout_ms]         block for a datagram on a bound port
  mmap <text> <r|rw> <shared|private>   map an in-memory file, print its base address
  fault <addr>                     force a page fault at addr (hex, e.g. 0x10000)
  munmap <addr> <len>              unmap [addr, addr+len)
  read <bno>                       print a disk block through the buffer cache
  write <bno> <text>               write text into a disk block
  stats                            print cache/net/memory counters
  exit | quit | q                  leave the REPL
`)
}

func (r *replState) cmdBind(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: bind <port>")
		return
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	if err := kapi.Bind(r.h.stack, port); err != nil {
		fmt.Fprintln(r.out, "bind:", err)
		return
	}
	fmt.Fprintf(r.out, "bound port %d\n", port)
}

func (r *replState) cmdUnbind(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: unbind <port>")
		return
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	if err := kapi.Unbind(r.h.stack, port); err != nil {
		fmt.Fprintln(r.out, "unbind:", err)
		return
	}
	fmt.Fprintf(r.out, "unbound port %d\n", port)
}

func (r *replState) cmdSend(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(r.out, "usage: send <ip> <port> <text...>")
		return
	}
	ip, err := netstack.ParseIP(args[0])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	payload := strings.Join(args[2:], " ")
	// sport 40000 is an arbitrary ephemeral port; the REPL has no bind of
	// its own to send from.
	if err := kapi.Send(r.h.stack, 40000, ip, port, []byte(payload)); err != nil {
		fmt.Fprintln(r.out, "send:", err)
		return
	}
	fmt.Fprintf(r.out, "sent %d bytes to %s:%d\n", len(payload), ip, port)
}

func (r *replState) cmdRecv(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "usage: recv <port> [timeout_ms]")
		return
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	timeout := 2 * time.Second
	if len(args) >= 2 {
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintln(r.out, err)
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	p := kapi.NewProcess(r.h.pt, r.h.pages, 0, r.h.cfg.MaxVMA)
	timer := time.AfterFunc(timeout, p.Kill)
	defer timer.Stop()

	var srcIP int
	var srcPort uint16
	buf := make([]byte, 2048)
	n, err := kapi.Recv(p, r.h.stack, port, &srcIP, &srcPort, buf)
	if err != nil {
		fmt.Fprintln(r.out, "recv:", err)
		return
	}
	fmt.Fprintf(r.out, "%d bytes from %s:%d: %q\n", n, netstack.IP(srcIP), srcPort, buf[:n])
}

func (r *replState) cmdMmap(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(r.out, "usage: mmap <text> <r|rw> <shared|private>")
		return
	}
	content, protArg, flagArg := args[0], args[1], args[2]

	prot := vma.ProtRead
	if protArg == "rw" {
		prot |= vma.ProtWrite
	}
	flags := vma.MapPrivate
	if flagArg == "shared" {
		flags = vma.MapShared
	}

	file := simfs.NewFile([]byte(content), prot&vma.ProtWrite != 0)
	perms := kapi.FDRead
	if prot&vma.ProtWrite != 0 {
		perms |= kapi.FDWrite
	}
	fd := r.h.proc.FDs.Install(file, perms)

	addr, err := kapi.Mmap(r.h.proc, 0, len(content), prot, flags, fd, 0)
	if err != nil {
		fmt.Fprintln(r.out, "mmap:", err)
		return
	}
	fmt.Fprintf(r.out, "mapped fd %d at 0x%x (%d bytes)\n", fd, addr, len(content))
}

func (r *replState) cmdFault(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: fault <addr>")
		return
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	if err := kapi.Fault(r.h.proc, uintptr(addr)); err != nil {
		fmt.Fprintln(r.out, "fault:", err)
		return
	}
	fmt.Fprintln(r.out, "fault serviced")
}

func (r *replState) cmdMunmap(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(r.out, "usage: munmap <addr> <len>")
		return
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	length, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	if err := kapi.Munmap(r.h.proc, uintptr(addr), length); err != nil {
		fmt.Fprintln(r.out, "munmap:", err)
		return
	}
	fmt.Fprintln(r.out, "unmapped")
}

func (r *replState) cmdRead(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "usage: read <bno>")
		return
	}
	bno, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	buf, err := r.h.cache.Bread(0, bno)
	if err != nil {
		fmt.Fprintln(r.out, "read:", err)
		return
	}
	defer r.h.cache.Brelse(buf)
	data := buf.Data()
	end := 64
	if end > len(data) {
		end = len(data)
	}
	fmt.Fprintf(r.out, "block %d: %q...\n", bno, data[:end])
}

func (r *replState) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: write <bno> <text...>")
		return
	}
	bno, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	text := strings.Join(args[1:], " ")

	buf, err := r.h.cache.Bread(0, bno)
	if err != nil {
		fmt.Fprintln(r.out, "write:", err)
		return
	}
	defer r.h.cache.Brelse(buf)
	data := buf.Data()
	for i := range data {
		data[i] = 0
	}
	copy(data, text)
	if err := r.h.cache.Bwrite(buf); err != nil {
		fmt.Fprintln(r.out, "write:", err)
		return
	}
	fmt.Fprintf(r.out, "wrote %d bytes to block %d\n", len(text), bno)
}

func (r *replState) cmdStats() {
	printStats(r.out, r.h)
}
