//go:build !unix

package worker

import (
	"os"
	"os/exec"
	"os/signal"
)

// configureChildProcAttr is a no-op off Unix: there is no portable process
// group concept to attach.
func configureChildProcAttr(cmd *exec.Cmd) {}

// signalChild can only deliver an unconditional kill off Unix; QUIT, USR1,
// USR2 and CONT have no portable equivalent (spec.md 4.5: "if any ... is
// not available on the host platform, log a warning and continue").
func signalChild(cmd *exec.Cmd, sig os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func termSignal() os.Signal { return os.Interrupt }

// notifyAllSignals only subscribes to what this platform actually supports.
func notifyAllSignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}

func unsupportedSignalWarning() string {
	return "QUIT, USR1, USR2 and CONT are not available on this platform; only TERM/INT-equivalent shutdown is supported"
}

func isTerm(sig os.Signal) bool    { return false }
func isInt(sig os.Signal) bool     { return sig == os.Interrupt }
func isQuit(sig os.Signal) bool    { return false }
func isUsr1(sig os.Signal) bool    { return false }
func isUsr2(sig os.Signal) bool    { return false }
func isContSig(sig os.Signal) bool { return false }
