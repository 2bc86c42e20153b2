// Package mcp provides an MCP (Model Context Protocol) server for fmridesign.
package mcp

// ProtocolInspectInput defines the input for the protocol_inspect tool.
type ProtocolInspectInput struct {
	Path string  `json:"path" jsonschema:"Protocol file (.prt), absolute or relative to the server root"`
	TR   float64 `json:"tr,omitempty" jsonschema:"Repetition time in milliseconds; when set, interval durations are also reported in msec"`
}

// ProtocolInspectOutput defines the output for the protocol_inspect tool.
type ProtocolInspectOutput struct {
	Experiment  string             `json:"experiment" jsonschema:"Experiment name from the protocol header"`
	Unit        string             `json:"unit" jsonschema:"Time unit of every interval: Volumes or msec"`
	FileVersion int                `json:"file_version" jsonschema:"File version, 3 when the protocol carries parametric weights"`
	Parametric  bool               `json:"parametric" jsonschema:"Whether intervals carry parametric weights"`
	Conditions  []ConditionSummary `json:"conditions" jsonschema:"Conditions in protocol order"`
	Events      int                `json:"events" jsonschema:"Total number of intervals across conditions"`
}

// ConditionSummary provides a compact view of a condition.
type ConditionSummary struct {
	Name       string  `json:"name"`
	Colour     string  `json:"colour"`
	Intervals  int     `json:"intervals"`
	Duration   float64 `json:"duration"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	Parametric bool    `json:"parametric"`
}

// DesignBuildInput defines the input for the design_build tool.
type DesignBuildInput struct {
	Protocol    string  `json:"protocol" jsonschema:"Protocol file (.prt) to expand"`
	Output      string  `json:"output,omitempty" jsonschema:"Design matrix file to write; defaults to the protocol path with a .sdm extension"`
	DataPoints  int     `json:"data_points" jsonschema:"Number of volumes in the run"`
	TR          float64 `json:"tr,omitempty" jsonschema:"Repetition time in milliseconds; defaults to the configured TR"`
	Convolve    *bool   `json:"convolve,omitempty" jsonschema:"Convolve condition predictors with the HRF (default from config)"`
	AddConstant *bool   `json:"add_constant,omitempty" jsonschema:"Append the constant column (default from config)"`
	Derivatives int     `json:"derivatives,omitempty" jsonschema:"Add derivative confounds up to this order (0-2)"`
	ZTransform  bool    `json:"z_transform,omitempty" jsonschema:"z-transform every non-constant column"`
	Rounding    string  `json:"rounding,omitempty" jsonschema:"How msec intervals snap onto volumes: nearest, floor or reject"`
	Arrow       bool    `json:"arrow,omitempty" jsonschema:"Also export the matrix as an Arrow IPC file next to the .sdm"`
	Catalog     bool    `json:"catalog,omitempty" jsonschema:"Store the protocol and the matrix in the catalog"`
}

// DesignBuildOutput defines the output for the design_build tool.
type DesignBuildOutput struct {
	Path          string   `json:"path" jsonschema:"Design matrix file written"`
	ArrowPath     string   `json:"arrow_path,omitempty" jsonschema:"Arrow export written, if requested"`
	Predictors    []string `json:"predictors" jsonschema:"Column names in matrix order"`
	DataPoints    int      `json:"data_points"`
	FirstConfound int      `json:"first_confound" jsonschema:"1-based index of the first confound column"`
	HasConstant   bool     `json:"has_constant"`
	CatalogID     string   `json:"catalog_id,omitempty" jsonschema:"Catalog id of the stored matrix"`
	Message       string   `json:"message" jsonschema:"Human-readable result message"`
}

// DesignInspectInput defines the input for the design_inspect tool.
type DesignInspectInput struct {
	Path string `json:"path,omitempty" jsonschema:"Design matrix file (.sdm or .arrow)"`
	ID   string `json:"id,omitempty" jsonschema:"Catalog id or unique id prefix of a stored matrix"`
}

// DesignInspectOutput defines the output for the design_inspect tool.
type DesignInspectOutput struct {
	Predictors     []PredictorSummary `json:"predictors"`
	DataPoints     int                `json:"data_points"`
	FirstConfound  int                `json:"first_confound"`
	HasConstant    bool               `json:"has_constant"`
	TR             float64            `json:"tr"`
	Transformation string             `json:"transformation"`
}

// PredictorSummary describes one design matrix column.
type PredictorSummary struct {
	Name     string  `json:"name"`
	Colour   string  `json:"colour"`
	Confound bool    `json:"confound"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// CatalogListInput defines the input for the catalog_list tool.
type CatalogListInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"Document kind or extension to list (protocol, design, contrast, study, voi)"`
	Tag  string `json:"tag,omitempty" jsonschema:"Only list documents carrying this tag"`
}

// CatalogListOutput defines the output for the catalog_list tool.
type CatalogListOutput struct {
	Entries []CatalogEntry `json:"entries"`
	Count   int            `json:"count"`
}

// CatalogEntry provides a list view of a catalog document.
type CatalogEntry struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at" jsonschema:"Creation time in RFC 3339 format"`
}
