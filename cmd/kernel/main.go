// Command kernel boots the simulated scheduler and virtual-memory stack
// and execs an initial user command line, the same shape as the
// original's main() bringing up the machine and exec("bin/init").
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pintosgo/internal/common"
	"pintosgo/internal/config"
	"pintosgo/internal/device"
	"pintosgo/internal/klog"
	"pintosgo/internal/kthread"
	"pintosgo/internal/process"
	"pintosgo/internal/vm/frame"
	"pintosgo/internal/vm/page"
	"pintosgo/internal/vm/swap"
)

const sectorsPerPage = common.PGSIZE / common.SectorSize

var log = klog.For("boot")

func main() {
	var (
		mlfqs   bool
		cfgPath string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "kernel [-- initial command line]",
		Short: "boots the scheduler/VM simulation and execs an initial process",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				klog.SetLevel(logrus.DebugLevel)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("mlfqs") {
				cfg.Mlfqs = mlfqs
			}

			dashAt := cmd.ArgsLenAtDash()
			var cmdline []string
			if dashAt >= 0 {
				cmdline = args[dashAt:]
			}
			if len(cmdline) == 0 {
				cmdline = []string{"init"}
			}

			return boot(cfg, cmdline)
		},
	}
	cmd.Flags().BoolVar(&mlfqs, "mlfqs", false, "select the multi-level feedback queue scheduler (-o mlfqs)")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a kernel.toml overlaying the defaults")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	if err := cmd.Execute(); err != nil {
		log.WithField("err", err).Error("boot failed")
		os.Exit(1)
	}
}

// boot wires every subsystem together exactly once, execs cmdline as the
// initial process, waits for it to finish, and exits with its status --
// the simulation's analog of the original never returning from main().
func boot(cfg config.Config, cmdline []string) error {
	metrics := kthread.NewMetrics(prometheus.DefaultRegisterer)
	sched, bootThread := kthread.NewScheduler(cfg.Mlfqs, metrics)

	swapDev, err := openSwapDevice(cfg)
	if err != nil {
		return fmt.Errorf("opening swap device: %w", err)
	}

	reg := page.NewRegistry(swap.NewManager(swapDev))
	frames := frame.NewTable(cfg.NumFrames, reg)
	reg.BindFrameTable(frames)

	fs := device.NewMemFileSystem()
	console := device.NewStdoutConsole()

	mgr := process.NewManager(sched, reg, fs, console)
	registerBuiltinPrograms(mgr)

	log.WithField("mlfqs", cfg.Mlfqs).
		WithField("num_frames", cfg.NumFrames).
		WithField("num_swap_slots", cfg.NumSwapSlots).
		Info("BiscuitOS-style scheduler/VM simulation booting")

	root := mgr.NewRootProcess(bootThread, "kernel")
	tid := mgr.Exec(bootThread, root, strings.Join(cmdline, " "))
	if tid == common.TID_ERROR {
		return fmt.Errorf("exec %q: no such program", cmdline[0])
	}

	status := mgr.Wait(bootThread, root, tid)
	log.WithField("status", status).Info("initial process exited")
	os.Exit(int(status))
	return nil
}

func openSwapDevice(cfg config.Config) (device.BlockDevice, error) {
	if cfg.SwapFile == "" {
		return device.NewMemBlockDevice(int64(cfg.NumSwapSlots * sectorsPerPage)), nil
	}
	return device.OpenFileBlockDevice(cfg.SwapFile, int64(cfg.NumSwapSlots*sectorsPerPage))
}

// registerBuiltinPrograms stands in for the binaries a real exec would
// ELF-load off the filesystem (spec.md §1 scopes an ELF loader out).
// init simply exits cleanly; halt calls the halt syscall directly; echo
// is the spec.md §8 scenario 6 end-to-end demonstration -- it lays out
// its own argv/argc stack image with BuildArgvStack exactly as a real
// exec would, then traps into write(2) through Dispatch off a second
// stack image holding the syscall frame, rather than calling the typed
// Write method straight from Go.
func registerBuiltinPrograms(mgr *process.Manager) {
	mgr.RegisterProgram("init", func(m *process.Manager, self *kthread.Thread_t, p *process.Proc_t, argv []string) int32 {
		return 0
	})

	mgr.RegisterProgram("halt", func(m *process.Manager, self *kthread.Thread_t, p *process.Proc_t, argv []string) int32 {
		m.Halt()
		return 0
	})

	mgr.RegisterProgram("echo", func(m *process.Manager, self *kthread.Thread_t, p *process.Proc_t, argv []string) int32 {
		// Stack page: argv/argc/fake-return-address, laid out exactly as
		// a freshly execed process's would be.
		p.Pages.InstallZeroFill(common.PHYS_BASE-1, true)
		layout := process.BuildArgvStack(common.PHYS_BASE, argv)
		if !p.Mem.Write(layout.Esp, layout.Bytes) {
			return -1
		}

		// Scratch page one below the stack: the message to print, then
		// the syscall trap frame Dispatch reads esp from.
		scratch := common.PHYS_BASE - 2*common.PGSIZE
		p.Pages.InstallZeroFill(scratch, true)

		msg := strings.Join(argv[1:], " ") + "\n"
		msgAddr := scratch
		if !p.Mem.Write(msgAddr, []byte(msg)) {
			return -1
		}

		trapEsp := scratch + common.Uaddr_t(len(msg))
		if pad := uintptr(trapEsp) % 4; pad != 0 {
			trapEsp += common.Uaddr_t(4 - pad)
		}
		trap := syscallTrapWords(process.SysWrite, 1, uint32(msgAddr), uint32(len(msg)))
		if !p.Mem.Write(trapEsp, trap) {
			return -1
		}

		eax, killed := m.Dispatch(self, p, trapEsp)
		if killed || int(eax) != len(msg) {
			return -1
		}
		return 0
	})
}

// syscallTrapWords packs a syscall number and its arguments into the
// little-endian [nr][arg0][arg1]... image Dispatch expects at esp.
func syscallTrapWords(nr process.Syscall, args ...uint32) []byte {
	words := make([]uint32, 0, len(args)+1)
	words = append(words, uint32(nr))
	words = append(words, args...)

	img := make([]byte, 0, len(words)*4)
	for _, w := range words {
		img = append(img, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return img
}
