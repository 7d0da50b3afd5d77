// Package fabric defines typed views of the controller managed objects used
// by the upgrade workflow, and helpers to decode them from raw attributes.
package fabric

// Managed object class names.
const (
	ClassFault           = "faultInst"
	ClassTopSystem       = "topSystem"
	ClassFabricSetupPol  = "fabricSetupP"
	ClassISISRoute       = "isisRoute"
	ClassMaintUpgJob     = "maintUpgJob"
	ClassFirmware        = "firmwareFirmware"
	ClassFirmwareRunning = "firmwareRunning"
	ClassCtrlrRunning    = "firmwareCtrlrRunning"
	ClassConfigJob       = "configJob"
	ClassTechSupStatus   = "dbgexpTechSupStatus"
	ClassCapRule         = "fvcapRule"
	ClassCtxClassCnt     = "ctxClassCnt"
	ClassPolUsage        = "eqptcapacityPolUsage5min"
	ClassVPCDomain       = "vpcDom"
	ClassControllerNode  = "infraWiNode"
	ClassPhysIf          = "cnwPhysIf"
	ClassVMMController   = "compCtrlr"
	ClassHypervisor      = "compHv"
	ClassClockPolicy     = "datetimeClkPol"
)

// Fault severities.
const (
	SeverityCleared  = "cleared"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// Fault is an active or cleared fault instance.
type Fault struct {
	DN          string `mapstructure:"dn" validate:"required"`
	Code        string `mapstructure:"code"`
	Severity    string `mapstructure:"severity"`
	Description string `mapstructure:"descr"`
	Cause       string `mapstructure:"cause"`
	Created     string `mapstructure:"created"`
	LastChange  string `mapstructure:"lastTransition"`
}

// Device is a fabric node (controller, spine or leaf).
type Device struct {
	DN      string `mapstructure:"dn" validate:"required"`
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Role    string `mapstructure:"role"`
	Address string `mapstructure:"address"`
	Serial  string `mapstructure:"serial"`
	Version string `mapstructure:"version"`
	State   string `mapstructure:"state"`
	PodID   string `mapstructure:"podId"`
}

// IsSwitch returns true for spines and leaves.
func (d Device) IsSwitch() bool {
	return d.Role == "spine" || d.Role == "leaf"
}

// Pod is a fabric setup policy entry.
type Pod struct {
	DN      string `mapstructure:"dn" validate:"required"`
	PodID   string `mapstructure:"podId"`
	PodType string `mapstructure:"podType"`
	TEPPool string `mapstructure:"tepPool"`
}

// IsPhysical returns true for physical pods with a TEP pool.
func (p Pod) IsPhysical() bool {
	return p.PodType == "physical" && p.TEPPool != ""
}

// Route is an IS-IS route entry.
type Route struct {
	DN     string `mapstructure:"dn" validate:"required"`
	Prefix string `mapstructure:"pfx" validate:"required"`
}

// MaintJob is the upgrade job of one node in a maintenance group.
type MaintJob struct {
	DN             string `mapstructure:"dn" validate:"required"`
	Group          string `mapstructure:"maintGrp"`
	DesiredVersion string `mapstructure:"desiredVersion"`
	UpgradeStatus  string `mapstructure:"upgradeStatus"`
	Progress       string `mapstructure:"instlProgPct"`
}

// UpgradeStatusComplete is the job status of a finished upgrade.
const UpgradeStatusComplete = "completeok"

// Done returns true if the job finished at the given version.
func (j MaintJob) Done(version string) bool {
	return j.DesiredVersion == version && j.UpgradeStatus == UpgradeStatusComplete
}

// Firmware is an image in the firmware repository.
type Firmware struct {
	DN          string `mapstructure:"dn" validate:"required"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	FullVersion string `mapstructure:"fullVersion"`
	Status      string `mapstructure:"dnldStatus"`
}

// DownloadStatusComplete is the status of a fully downloaded image.
const DownloadStatusComplete = "downloaded"

// Downloaded returns true if the image is in the repository.
func (f Firmware) Downloaded() bool {
	return f.Status == DownloadStatusComplete
}

// ConfigJob is a configuration export job.
type ConfigJob struct {
	DN            string `mapstructure:"dn" validate:"required"`
	OperSt        string `mapstructure:"operSt"`
	ExecutionTime string `mapstructure:"executeTime"`
	LastStepTime  string `mapstructure:"lastStepTime"`
}

// CapRule is a scale limit. Rules under uni/ apply fabric-wide, rules under
// topology/ apply to one node.
type CapRule struct {
	DN         string `mapstructure:"dn" validate:"required"`
	Subject    string `mapstructure:"subj"`
	Constraint int    `mapstructure:"constraint"`
}

// CtxClassCnt is a per-node object count.
type CtxClassCnt struct {
	DN    string `mapstructure:"dn" validate:"required"`
	Name  string `mapstructure:"name"`
	Count int    `mapstructure:"count"`
}

// PolicyUsage is the TCAM usage of a leaf over the last five minutes.
type PolicyUsage struct {
	DN       string `mapstructure:"dn" validate:"required"`
	Usage    int    `mapstructure:"polUsageCum"`
	Capacity int    `mapstructure:"polUsageCapCum"`
}

// VPCDomain is a vPC pair.
type VPCDomain struct {
	DN     string `mapstructure:"dn" validate:"required"`
	ID     string `mapstructure:"id"`
	PeerSt string `mapstructure:"peerSt"`
}

// ControllerNode is a controller as seen by the cluster.
type ControllerNode struct {
	DN       string `mapstructure:"dn" validate:"required"`
	ID       string `mapstructure:"id"`
	NodeName string `mapstructure:"nodeName"`
	Health   string `mapstructure:"health"`
}

// PhysIf is a controller interface.
type PhysIf struct {
	DN     string `mapstructure:"dn" validate:"required"`
	ID     string `mapstructure:"id"`
	OperSt string `mapstructure:"operSt"`
}

// VMMController is a virtual machine manager such as vCenter.
type VMMController struct {
	DN     string `mapstructure:"dn" validate:"required"`
	Name   string `mapstructure:"name"`
	OperSt string `mapstructure:"operSt"`
}

// Hypervisor is a virtual switch host.
type Hypervisor struct {
	DN    string `mapstructure:"dn" validate:"required"`
	Name  string `mapstructure:"name"`
	State string `mapstructure:"state"`
}

// ClockPolicy is a date and time policy with its NTP server status.
type ClockPolicy struct {
	DN        string `mapstructure:"dn" validate:"required"`
	SrvStatus string `mapstructure:"srvStatus"`
}
