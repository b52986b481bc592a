package server

import (
	"slices"
	"strings"
	"sync"
)

// CommandFunc is the single call contract for every command handler.
// args is the tokenized command line; args[0] is the upper-cased verb.
// For SITE commands args[0] is the upper-cased sub-verb.
//
// A nil return without a reply makes the engine answer "200 Done".
// Returning a *ResponseError sends that exact reply.
type CommandFunc func(args []string) error

// NoArgs adapts a handler that takes no arguments.
func NoArgs(fn func() error) CommandFunc {
	return func(_ []string) error {
		return fn()
	}
}

// SingleArg adapts a handler that takes the arguments as one string.
// The arguments after the verb are joined with a single space; the handler
// receives "" when there are none.
func SingleArg(fn func(arg string) error) CommandFunc {
	return func(args []string) error {
		return fn(joinArgs(args))
	}
}

func joinArgs(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return strings.Join(args[1:], " ")
}

// CommandInfo describes a registered command.
type CommandInfo struct {
	// Label is the upper-cased verb.
	Label string

	// Help is the human-readable usage line returned by HELP.
	Help string

	// NeedsAuth marks commands refused with 530 before login.
	// SITE sub-commands never set it; they inherit the check done on SITE.
	NeedsAuth bool

	// Site is true for entries of the SITE namespace.
	Site bool

	Func CommandFunc
}

// commandRegistry maps upper-cased labels to commands.
//
// Registering a label twice replaces the earlier entry. Hosts rely on this to
// override built-in commands, so it is part of the contract.
type commandRegistry struct {
	mu       sync.RWMutex
	commands map[string]CommandInfo
	site     bool
}

func newCommandRegistry(site bool) *commandRegistry {
	return &commandRegistry{
		commands: make(map[string]CommandInfo),
		site:     site,
	}
}

func (r *commandRegistry) register(label, help string, fn CommandFunc, needsAuth bool) {
	label = strings.ToUpper(label)
	if r.site {
		needsAuth = false
	}

	r.mu.Lock()
	r.commands[label] = CommandInfo{
		Label:     label,
		Help:      help,
		NeedsAuth: needsAuth,
		Site:      r.site,
		Func:      fn,
	}
	r.mu.Unlock()
}

func (r *commandRegistry) lookup(label string) (CommandInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.commands[strings.ToUpper(label)]
	return info, ok
}

func (r *commandRegistry) help(label string) (string, bool) {
	info, ok := r.lookup(label)
	if !ok {
		return "", false
	}
	return info.Help, true
}

// list returns the registered commands sorted by label.
func (r *commandRegistry) list() []CommandInfo {
	r.mu.RLock()
	infos := make([]CommandInfo, 0, len(r.commands))
	for _, info := range r.commands {
		infos = append(infos, info)
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b CommandInfo) int {
		return strings.Compare(a.Label, b.Label)
	})
	return infos
}

// CommandSet registers a family of commands on a new connection.
// Sets run while the connection is still Connecting, before any line is read.
type CommandSet interface {
	RegisterCommands(c *Conn)
}

// CommandSetFunc adapts a function to a CommandSet.
type CommandSetFunc func(c *Conn)

// RegisterCommands calls f(c).
func (f CommandSetFunc) RegisterCommands(c *Conn) {
	f(c)
}

// RegisterCommand registers a top-level command. Labels are case-insensitive
// and a second registration of the same label replaces the first.
func (c *Conn) RegisterCommand(label, help string, fn CommandFunc, needsAuth bool) {
	c.commands.register(label, help, fn, needsAuth)
}

// RegisterSiteCommand registers a sub-command of SITE.
func (c *Conn) RegisterSiteCommand(label, help string, fn CommandFunc) {
	c.siteCommands.register(label, help, fn, false)
}

// Command looks up a top-level command.
func (c *Conn) Command(label string) (CommandInfo, bool) {
	return c.commands.lookup(label)
}

// SiteCommand looks up a SITE sub-command.
func (c *Conn) SiteCommand(label string) (CommandInfo, bool) {
	return c.siteCommands.lookup(label)
}

// HelpMessage returns the help text of a top-level command.
func (c *Conn) HelpMessage(label string) (string, bool) {
	return c.commands.help(label)
}

// SiteHelpMessage returns the help text of a SITE sub-command.
func (c *Conn) SiteHelpMessage(label string) (string, bool) {
	return c.siteCommands.help(label)
}

// Commands returns the top-level commands sorted by label.
func (c *Conn) Commands() []CommandInfo {
	return c.commands.list()
}

// SiteCommands returns the SITE sub-commands sorted by label.
func (c *Conn) SiteCommands() []CommandInfo {
	return c.siteCommands.list()
}

// site dispatches SITE <sub-verb> [args...] through the SITE registry.
func (c *Conn) site(args []string) error {
	if len(args) < 2 {
		c.SendResponse(500, "Missing the command name")
		return nil
	}

	info, ok := c.siteCommands.lookup(args[1])
	if !ok {
		c.SendResponse(504, "Unknown site command")
		return nil
	}

	sub := slices.Clone(args[1:])
	sub[0] = info.Label
	c.execute(info, sub)
	return nil
}
