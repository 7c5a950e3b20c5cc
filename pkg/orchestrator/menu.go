package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/synaptica-ai/bedside-sim/pkg/device"
)

const (
	menuStartECG = iota + 1
	menuAddVitals
	menuLonelyVitals
	menuRemoveVitals
	menuStop
	menuList
	menuExit
)

// Menu is the interactive operator console.
type Menu struct {
	svc *Service
	in  *bufio.Scanner
	out io.Writer
}

func NewMenu(svc *Service, in io.Reader, out io.Writer) *Menu {
	return &Menu{svc: svc, in: bufio.NewScanner(in), out: out}
}

// Run serves menu choices until the operator exits, input ends or ctx is
// cancelled. It does not shut the service down.
func (m *Menu) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.printMenu()
		line, ok := m.readLine(">> choice: ")
		if !ok {
			return m.in.Err()
		}
		choice, err := strconv.Atoi(line)
		if err != nil {
			m.println("Invalid choice, try again.")
			continue
		}
		if choice == menuExit {
			return nil
		}
		m.dispatch(ctx, choice)
	}
}

func (m *Menu) dispatch(ctx context.Context, choice int) {
	switch choice {
	case menuStartECG:
		entry, err := m.svc.StartECG(ctx)
		m.report(err, "Started ECG belt %s for patient %s", entry.DeviceID, entry.PatientID)
	case menuAddVitals:
		ecg, ok := m.choose("Select patient to add BP/SpO2 monitoring", m.svc.PairableECG(), "No unmonitored ECG belts are running.")
		if !ok {
			return
		}
		entry, err := m.svc.AddVitals(ctx, ecg.DeviceID)
		m.report(err, "Started BP/SpO2 %s for patient %s", entry.DeviceID, entry.PatientID)
	case menuLonelyVitals:
		entry, err := m.svc.StartLonelyVitals(ctx)
		m.report(err, "Started lonely BP/SpO2 %s for patient %s", entry.DeviceID, entry.PatientID)
	case menuRemoveVitals:
		ecg, ok := m.choose("Select patient to remove BP/SpO2 monitoring from", m.svc.PairedECG(), "No patients have BP/SpO2 monitoring to remove.")
		if !ok {
			return
		}
		m.report(m.svc.RemoveVitals(ctx, ecg.DeviceID), "Stopped BP/SpO2 %s for patient %s", ecg.PairedWith, ecg.PatientID)
	case menuStop:
		target, ok := m.choose("Running streams", m.svc.StoppableStreams(), "No streams are running.")
		if !ok {
			return
		}
		m.report(m.svc.Stop(ctx, target.DeviceID), "Stopped %s", target.DeviceID)
	case menuList:
		m.printList()
	default:
		m.println("Invalid choice, try again.")
	}
}

func (m *Menu) printMenu() {
	m.println("")
	m.println("===== Bedside Device Simulator =====")
	m.println("  1: Start a new ECG belt stream")
	m.println("  2: Add BP/SpO2 monitoring to a patient")
	m.println("  3: Start a lonely BP/SpO2 stream (no ECG)")
	m.println("  4: Remove BP/SpO2 monitoring from a patient")
	m.println("  5: Stop a running stream (ECG or lonely BP/SpO2)")
	m.println("  6: List running streams")
	m.println("  7: Exit")
}

func (m *Menu) printList() {
	entries := m.svc.List()
	if len(entries) == 0 {
		m.println("No streams are running.")
		return
	}
	for _, e := range entries {
		switch e.Category {
		case device.CategoryECG:
			paired := e.PairedWith
			if paired == "" {
				paired = "none"
			}
			m.printf("  - ECG belt %s (patient %s) | BP/SpO2: %s\n", e.DeviceID, e.PatientID, paired)
		case device.CategoryPaired:
			m.printf("  - BP/SpO2 %s (patient %s) paired with %s\n", e.DeviceID, e.PatientID, e.PairedWith)
		default:
			m.printf("  - Lonely BP/SpO2 %s (patient %s)\n", e.DeviceID, e.PatientID)
		}
	}
}

// choose prints options and reads a 1-based selection.
func (m *Menu) choose(title string, options []device.Entry, empty string) (device.Entry, bool) {
	if len(options) == 0 {
		m.println(empty)
		return device.Entry{}, false
	}
	m.printf("--- %s ---\n", title)
	for i, e := range options {
		m.printf("  %d: %s %s (patient %s)\n", i+1, e.Kind, e.DeviceID, e.PatientID)
	}
	line, ok := m.readLine("Enter a number (0 to cancel): ")
	if !ok {
		return device.Entry{}, false
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		m.println("Invalid input, enter a number.")
		return device.Entry{}, false
	}
	entry, err := Select(options, n)
	switch {
	case errors.Is(err, ErrCancelled):
		m.println("Cancelled.")
		return device.Entry{}, false
	case err != nil:
		m.println("Invalid number.")
		return device.Entry{}, false
	}
	return entry, true
}

func (m *Menu) report(err error, format string, args ...interface{}) {
	if err != nil {
		m.printf("Error: %v\n", err)
		return
	}
	m.printf(format+"\n", args...)
}

func (m *Menu) readLine(prompt string) (string, bool) {
	fmt.Fprint(m.out, prompt)
	if !m.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(m.in.Text()), true
}

func (m *Menu) println(s string) {
	fmt.Fprintln(m.out, s)
}

func (m *Menu) printf(format string, args ...interface{}) {
	fmt.Fprintf(m.out, format, args...)
}
