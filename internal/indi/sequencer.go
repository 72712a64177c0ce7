package indi

import (
	"context"
	"fmt"
	"time"
)

// Sequence step names, in the order they are sent.
const (
	StepConnect    = "connect"
	StepEnableBLOB = "enable_blob"
	StepFrameType  = "frame_type"
	StepUploadMode = "upload_mode"
	StepISO        = "iso"
	StepExposure   = "exposure"
)

// ImagingRequest describes one exposure to start.
type ImagingRequest struct {
	// Device is the CCD device name (e.g. "CCD Simulator").
	Device string

	// Exposure is the exposure duration in seconds.
	Exposure float64

	// FrameType is "light", "bias", "dark" or "flat". Anything else is light.
	FrameType string

	// Subfolder namespaces BLOB output for this job. It must already be
	// sanitised by the caller. Empty writes to the images directory root.
	Subfolder string

	// ISO is optional; it is only sent if the device exposes an ISO control.
	ISO *float64
}

// Command is one step of an imaging sequence.
type Command struct {
	Step    string
	Payload string
}

// Capabilities answers which properties a device currently defines.
// *Store satisfies it.
type Capabilities interface {
	HasProperty(device, name string) bool
	HasElement(device, prop, elem string) bool
}

// Pacing holds the delays between sequence steps. Drivers process commands
// asynchronously, so back-to-back sends risk out-of-order application.
type Pacing struct {
	// AfterConnect is the delay after the connect switch.
	AfterConnect time.Duration

	// BetweenCommands is the delay after every other step.
	BetweenCommands time.Duration
}

// BuildExposureSequence returns the ordered commands that start one exposure.
//
// Order:
//  1. connect switch (always)
//  2. enableBLOB (always)
//  3. frame type switch (if the device defines CCD_FRAME_TYPE)
//  4. client upload mode (if the device defines UPLOAD_MODE)
//  5. ISO number (if req.ISO is set and CCD_CONTROLS has an ISO element)
//  6. exposure number (always, last)
func BuildExposureSequence(caps Capabilities, req ImagingRequest) []Command {
	dev := req.Device
	cmds := []Command{
		{Step: StepConnect, Payload: NewSwitchCommand(dev, PropConnection, ElemConnect)},
		{Step: StepEnableBLOB, Payload: EnableBLOBCommand(dev, BLOBPolicyAlso)},
	}

	if caps.HasProperty(dev, PropFrameType) {
		cmds = append(cmds, Command{
			Step:    StepFrameType,
			Payload: NewSwitchCommand(dev, PropFrameType, FrameTypeElement(req.FrameType)),
		})
	}

	if caps.HasProperty(dev, PropUploadMode) {
		cmds = append(cmds, Command{
			Step:    StepUploadMode,
			Payload: NewSwitchCommand(dev, PropUploadMode, ElemUploadClient),
		})
	}

	if req.ISO != nil && caps.HasElement(dev, PropControls, ElemISO) {
		cmds = append(cmds, Command{
			Step:    StepISO,
			Payload: NewNumberCommand(dev, PropControls, ElemISO, *req.ISO),
		})
	}

	return append(cmds, Command{
		Step:    StepExposure,
		Payload: NewNumberCommand(dev, PropExposure, ElemExposure, req.Exposure),
	})
}

// Sender writes one raw command to the server.
type Sender interface {
	SendRaw(ctx context.Context, command string) error
}

// RunSequence sends cmds one at a time, pausing between them.
//
// The first failure aborts the remaining steps. Steps already sent are not
// rolled back, so the device may be left partially configured.
//
// Returns:
//   - error: Wraps the failing step's error, or ctx.Err() if cancelled while pacing
func RunSequence(ctx context.Context, sender Sender, cmds []Command, pacing Pacing) error {
	for i, cmd := range cmds {
		if err := sender.SendRaw(ctx, cmd.Payload); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, cmd.Step, err)
		}

		if i == len(cmds)-1 {
			break
		}

		delay := pacing.BetweenCommands
		if cmd.Step == StepConnect {
			delay = pacing.AfterConnect
		}
		if err := sleepContext(ctx, delay); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, cmd.Step, err)
		}
	}
	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
