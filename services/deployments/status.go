package deployments

// DeviceStatus is the per-device deployment state. The set is closed: status
// changes go through the transition table below and nothing else.
type DeviceStatus string

const (
	StatusPending               DeviceStatus = "pending"
	StatusDownloading           DeviceStatus = "downloading"
	StatusPauseBeforeInstalling DeviceStatus = "pause_before_installing"
	StatusInstalling            DeviceStatus = "installing"
	StatusPauseBeforeCommitting DeviceStatus = "pause_before_committing"
	StatusPauseBeforeRebooting  DeviceStatus = "pause_before_rebooting"
	StatusRebooting             DeviceStatus = "rebooting"
	StatusSuccess               DeviceStatus = "success"
	StatusFailure               DeviceStatus = "failure"

	// Side-entry terminals assigned by the service, never reported by a
	// device: no compatible artifact, target already installed, deployment
	// aborted by an operator, device removed from the fleet.
	StatusNoArtifact       DeviceStatus = "noartifact"
	StatusAlreadyInstalled DeviceStatus = "already-installed"
	StatusAborted          DeviceStatus = "aborted"
	StatusDecommissioned   DeviceStatus = "decommissioned"
)

// DeploymentStatus is the aggregate deployment state derived from statistics.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "inprogress"
	DeploymentFinished   DeploymentStatus = "finished"
)

// DeviceStatuses lists every status a device deployment can occupy, in
// lifecycle order. Statistics are seeded with a zero bucket for each.
func DeviceStatuses() []DeviceStatus {
	return []DeviceStatus{
		StatusPending,
		StatusDownloading,
		StatusPauseBeforeInstalling,
		StatusInstalling,
		StatusPauseBeforeCommitting,
		StatusPauseBeforeRebooting,
		StatusRebooting,
		StatusSuccess,
		StatusFailure,
		StatusNoArtifact,
		StatusAlreadyInstalled,
		StatusAborted,
		StatusDecommissioned,
	}
}

// inFlight are the statuses a device may report while working through an
// update, including the optional pause checkpoints.
var inFlight = map[DeviceStatus]struct{}{
	StatusDownloading:           {},
	StatusPauseBeforeInstalling: {},
	StatusInstalling:            {},
	StatusPauseBeforeCommitting: {},
	StatusPauseBeforeRebooting:  {},
	StatusRebooting:             {},
}

// reportable are the statuses accepted in a device status report.
var reportable = map[DeviceStatus]struct{}{
	StatusDownloading:           {},
	StatusPauseBeforeInstalling: {},
	StatusInstalling:            {},
	StatusPauseBeforeCommitting: {},
	StatusPauseBeforeRebooting:  {},
	StatusRebooting:             {},
	StatusSuccess:               {},
	StatusFailure:               {},
}

var terminal = map[DeviceStatus]struct{}{
	StatusSuccess:          {},
	StatusFailure:          {},
	StatusNoArtifact:       {},
	StatusAlreadyInstalled: {},
	StatusAborted:          {},
	StatusDecommissioned:   {},
}

// Valid reports whether s is a known device status.
func (s DeviceStatus) Valid() bool {
	for _, known := range DeviceStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final status. Terminal device deployments
// are immutable except for log appends.
func (s DeviceStatus) Terminal() bool {
	_, ok := terminal[s]
	return ok
}

// InFlight reports whether s represents an update in progress.
func (s DeviceStatus) InFlight() bool {
	_, ok := inFlight[s]
	return ok
}

// Reportable reports whether a device may submit s in a status report.
func (s DeviceStatus) Reportable() bool {
	_, ok := reportable[s]
	return ok
}

// ActiveStatuses lists the statuses of device deployments still eligible for
// assignment scans: not yet terminal.
func ActiveStatuses() []DeviceStatus {
	return []DeviceStatus{
		StatusPending,
		StatusDownloading,
		StatusPauseBeforeInstalling,
		StatusInstalling,
		StatusPauseBeforeCommitting,
		StatusPauseBeforeRebooting,
		StatusRebooting,
	}
}

// CanTransition decides whether a device deployment may move from one status
// to the other. A terminal status permits nothing; duplicate reports of the
// current terminal status are handled by the tracker as no-ops before this
// table is consulted.
func CanTransition(from, to DeviceStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StatusPending {
		return false
	}
	switch to {
	case StatusNoArtifact, StatusAlreadyInstalled:
		// Side-entry terminals are assigned before the device starts.
		return from == StatusPending
	case StatusAborted, StatusDecommissioned:
		return true
	default:
		// Devices may retry earlier phases, so any in-flight or final
		// report is accepted from any non-terminal status.
		return to.Reportable()
	}
}

// Stats maps each status to the number of owned device deployments currently
// in it. The counter sum always equals the deployment's device count.
type Stats map[DeviceStatus]int

// NewStats returns statistics with a zero bucket for every status.
func NewStats() Stats {
	s := make(Stats, len(DeviceStatuses()))
	for _, status := range DeviceStatuses() {
		s[status] = 0
	}
	return s
}

// Apply moves one device from one bucket to the other.
func (s Stats) Apply(from, to DeviceStatus) {
	s[from]--
	s[to]++
}

// Total sums every bucket.
func (s Stats) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

func (s Stats) finishedCount() int {
	n := 0
	for status := range terminal {
		n += s[status]
	}
	return n
}

func (s Stats) started() bool {
	for status := range s {
		if status == StatusPending {
			continue
		}
		if s[status] > 0 {
			return true
		}
	}
	return false
}

// Aggregate derives the deployment status from the statistics: finished once
// every device is terminal, in progress once any device moved past pending.
func (s Stats) Aggregate(maxDevices int) DeploymentStatus {
	if maxDevices <= 0 || s.finishedCount() >= maxDevices {
		return DeploymentFinished
	}
	if s.started() {
		return DeploymentInProgress
	}
	return DeploymentPending
}
