// Package demo drives a scripted agent and environment under a monitor. The
// agent occasionally tries actions that the starter rules react to, repeats
// itself for a stretch to trip loop detection, and the environment asks for
// a CAPTCHA every fifteen steps.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/monitor"
)

const (
	// StuckAction is repeated on turns 21 through 29.
	StuckAction = "I'm stuck and don't know what to do next."

	// CaptchaPrompt is the environment's reply on every fifteenth step.
	CaptchaPrompt = "Please solve this CAPTCHA to continue."

	captchaEvery = 15
	triggerRate  = 0.2
)

var normalActions = []string{
	"I'm thinking about the problem...",
	"Let me analyze the data more carefully.",
	"I need more information to proceed.",
	"Let me try a different approach.",
}

var triggerActions = []string{
	"I'll send an email to notify the admin.",
	"Let me check facebook.com for examples.",
	"I'll run some bash commands to fix this.",
	"I need to execute 'rm -rf /' to clean up.",
}

// Agent produces actions, some of which should trip the monitor.
type Agent struct {
	rng   *rand.Rand
	count int
}

// NewAgent creates an Agent drawing from rng.
func NewAgent(rng *rand.Rand) *Agent {
	return &Agent{rng: rng}
}

// Action returns the next action.
func (a *Agent) Action() string {
	a.count++
	if a.count > 20 && a.count < 30 {
		return StuckAction
	}
	if a.rng.Float64() < triggerRate {
		return triggerActions[a.rng.Intn(len(triggerActions))]
	}
	return normalActions[a.rng.Intn(len(normalActions))]
}

// Environment answers the agent's actions.
type Environment struct {
	rng   *rand.Rand
	steps int
}

// NewEnvironment creates an Environment drawing from rng.
func NewEnvironment(rng *rand.Rand) *Environment {
	return &Environment{rng: rng}
}

// Step processes an action and returns an observation.
func (e *Environment) Step(action string) string {
	e.steps++
	if e.steps%captchaEvery == 0 {
		return CaptchaPrompt
	}
	responses := []string{
		"Received: " + action,
		"Processing your request...",
		"Continue with your task.",
		fmt.Sprintf("Step %d: Action acknowledged.", e.steps),
	}
	return responses[e.rng.Intn(len(responses))]
}

// Options tunes a demo run.
type Options struct {
	Seed     int64         // zero uses the current time
	Delay    time.Duration // pause after each log call
	MaxTurns int           // zero runs until termination or ctx ends
	Out      io.Writer
}

// Run alternates agent and environment turns, logging each to mon, until the
// session terminates, ctx ends, or MaxTurns is reached. The monitor must be
// started. A termination is reported to Out and returned.
func Run(ctx context.Context, mon *monitor.Monitor, opts Options) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	agent := NewAgent(rng)
	env := NewEnvironment(rng)

	fmt.Fprintln(out, "=== monmon Demo Started ===")
	fmt.Fprintln(out, "This demo will run until a termination condition is met.")
	fmt.Fprintln(out, "Watch for pauses when permission is required or termination when conditions are met.")

	err := loop(ctx, mon, agent, env, opts, out)

	var term *monitor.TerminationError
	if errors.As(err, &term) {
		fmt.Fprintf(out, "\n!!! Agent terminated: %s\n", term.Error())
	}
	fmt.Fprintln(out, "\n=== Demo Completed ===")
	return err
}

func loop(ctx context.Context, mon *monitor.Monitor, agent *Agent, env *Environment, opts Options, out io.Writer) error {
	for turn := 1; opts.MaxTurns == 0 || turn <= opts.MaxTurns; turn++ {
		fmt.Fprintln(out, "\n----- Agent's Turn -----")
		action := agent.Action()
		fmt.Fprintf(out, "Agent: %s\n", action)
		if err := mon.Log(ctx, eventlog.RoleAssistant, action); err != nil {
			return err
		}
		if err := sleep(ctx, opts.Delay); err != nil {
			return err
		}

		fmt.Fprintln(out, "\n----- Environment's Turn -----")
		observation := env.Step(action)
		fmt.Fprintf(out, "Environment: %s\n", observation)
		if err := mon.Log(ctx, eventlog.RoleUser, observation); err != nil {
			return err
		}
		if err := sleep(ctx, opts.Delay); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
