package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/fmridesign/internal/catalog"
	"github.com/nvandessel/fmridesign/internal/columnar"
	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/pathutil"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

const catalogURI = "fmridesign://catalog"

// registerTools registers all fmridesign MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "protocol_inspect",
		Description: "Summarise a stimulation protocol (.prt): unit, conditions, interval counts and durations",
	}, s.handleProtocolInspect)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "design_build",
		Description: "Build a design matrix (.sdm) from a protocol, with optional HRF convolution, derivative confounds, z-transform and constant",
	}, s.handleDesignBuild)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "design_inspect",
		Description: "Describe the columns of a design matrix file or catalog entry",
	}, s.handleDesignInspect)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "catalog_list",
		Description: "List protocols, design matrices and other documents stored in the catalog",
	}, s.handleCatalogList)
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         catalogURI,
		Name:        "fmridesign-catalog",
		Description: "Documents stored in the fmridesign catalog, newest first.",
		MIMEType:    "text/markdown",
	}, s.handleCatalogResource)
}

// handleCatalogResource renders the catalog as a markdown table.
func (s *Server) handleCatalogResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	entries, err := s.catalog.List(ctx, "", "")
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("# fmridesign catalog\n\n")
	if len(entries) == 0 {
		sb.WriteString("The catalog is empty. Store documents with `design_build` (catalog: true) or `fmridesign catalog add`.\n")
	} else {
		sb.WriteString("| id | kind | name | created |\n|---|---|---|---|\n")
		for _, e := range entries {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", e.ID[:8], e.Kind, e.Name, e.CreatedAt.Format(time.DateTime))
		}
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      catalogURI,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleProtocolInspect implements the protocol_inspect tool.
func (s *Server) handleProtocolInspect(ctx context.Context, req *sdk.CallToolRequest, args ProtocolInspectInput) (_ *sdk.CallToolResult, _ ProtocolInspectOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("protocol_inspect", start, retErr, map[string]any{"path": filepath.Base(args.Path)})
	}()

	path, err := pathutil.ResolveWithin(s.root, args.Path)
	if err != nil {
		return nil, ProtocolInspectOutput{}, err
	}
	if args.TR < 0 {
		return nil, ProtocolInspectOutput{}, fmt.Errorf("tr %g: %w", args.TR, protocol.ErrInvalidTR)
	}
	prot, err := protocol.Load(path)
	if err != nil {
		return nil, ProtocolInspectOutput{}, err
	}

	out := ProtocolInspectOutput{
		Experiment:  prot.Experiment,
		Unit:        prot.Unit().String(),
		FileVersion: prot.FileVersion(),
		Parametric:  prot.ParametricWeights,
		Conditions:  make([]ConditionSummary, 0, prot.Len()),
	}
	for _, c := range prot.Conditions() {
		cs := ConditionSummary{
			Name:       c.Name,
			Colour:     c.Colour.String(),
			Intervals:  len(c.Intervals),
			Parametric: c.IsParametric(),
		}
		for _, iv := range c.Intervals {
			cs.Duration += prot.Duration(iv)
		}
		if args.TR > 0 {
			cs.DurationMS = cs.Duration
			if prot.Unit() == protocol.Volumes {
				cs.DurationMS = cs.Duration * args.TR
			}
		}
		out.Events += cs.Intervals
		out.Conditions = append(out.Conditions, cs)
	}
	return nil, out, nil
}

// handleDesignBuild implements the design_build tool.
func (s *Server) handleDesignBuild(ctx context.Context, req *sdk.CallToolRequest, args DesignBuildInput) (_ *sdk.CallToolResult, _ DesignBuildOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("design_build", start, retErr, map[string]any{
			"protocol":    filepath.Base(args.Protocol),
			"data_points": args.DataPoints,
			"derivatives": args.Derivatives,
		})
	}()

	protPath, err := pathutil.ResolveWithin(s.root, args.Protocol)
	if err != nil {
		return nil, DesignBuildOutput{}, err
	}
	outArg := args.Output
	if outArg == "" {
		outArg = strings.TrimSuffix(protPath, filepath.Ext(protPath)) + design.Ext
	}
	outPath, err := pathutil.ResolveWithin(s.root, outArg)
	if err != nil {
		return nil, DesignBuildOutput{}, err
	}

	opts, tr, err := s.buildOptions(args)
	if err != nil {
		return nil, DesignBuildOutput{}, err
	}

	prot, err := protocol.Load(protPath)
	if err != nil {
		return nil, DesignBuildOutput{}, err
	}
	m, err := design.Build(prot, args.DataPoints, tr, opts)
	if err != nil {
		return nil, DesignBuildOutput{}, err
	}

	written, err := m.Save(outPath)
	if err != nil {
		return nil, DesignBuildOutput{}, err
	}
	s.journal.Record("save", map[string]any{"path": filepath.Base(written), "predictors": m.Len()})

	out := DesignBuildOutput{
		Path:          written,
		Predictors:    m.Names(),
		DataPoints:    m.DataPoints(),
		FirstConfound: m.FirstConfound(),
		HasConstant:   m.HasConstant(),
	}

	if args.Arrow {
		arrowPath := strings.TrimSuffix(written, design.Ext) + columnar.Ext
		if out.ArrowPath, err = columnar.Export(arrowPath, m); err != nil {
			return nil, DesignBuildOutput{}, err
		}
	}

	if args.Catalog {
		if _, _, err := s.catalog.PutProtocol(ctx, filepath.Base(protPath), prot); err != nil {
			return nil, DesignBuildOutput{}, err
		}
		id, _, err := s.catalog.PutDesign(ctx, filepath.Base(written), m)
		if err != nil {
			return nil, DesignBuildOutput{}, err
		}
		out.CatalogID = id
	}

	out.Message = fmt.Sprintf("Wrote %d predictors x %d data points to %s", m.Len(), m.DataPoints(), filepath.Base(written))
	return nil, out, nil
}

// buildOptions merges tool arguments over the configured defaults.
func (s *Server) buildOptions(args DesignBuildInput) (design.BuildOptions, float64, error) {
	tr := args.TR
	if tr == 0 {
		tr = s.settings.Conversion.TR
	}
	if tr <= 0 {
		return design.BuildOptions{}, 0, fmt.Errorf("tr is required (no default configured): %w", protocol.ErrInvalidTR)
	}

	rounding := s.settings.Conversion.Rounding
	if args.Rounding != "" {
		rounding = args.Rounding
	}
	r, err := protocol.ParseRounding(rounding)
	if err != nil {
		return design.BuildOptions{}, 0, err
	}

	params, err := s.settings.HRF.Params()
	if err != nil {
		return design.BuildOptions{}, 0, err
	}

	opts := design.BuildOptions{
		Convolve:    s.settings.Design.Convolve,
		HRF:         params,
		Rounding:    r,
		Derivatives: args.Derivatives,
		ZTransform:  args.ZTransform || s.settings.Design.ZTransform,
		AddConstant: s.settings.Design.AddConstant,
		Logger:      s.logger,
		Journal:     s.journal,
	}
	if args.Convolve != nil {
		opts.Convolve = *args.Convolve
	}
	if args.AddConstant != nil {
		opts.AddConstant = *args.AddConstant
	}
	if opts.Derivatives == 0 {
		opts.Derivatives = s.settings.Design.Derivatives
	}
	return opts, tr, nil
}

// handleDesignInspect implements the design_inspect tool.
func (s *Server) handleDesignInspect(ctx context.Context, req *sdk.CallToolRequest, args DesignInspectInput) (_ *sdk.CallToolResult, _ DesignInspectOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("design_inspect", start, retErr, map[string]any{"path": filepath.Base(args.Path), "id": args.ID})
	}()

	var m *design.Matrix
	var err error
	switch {
	case args.Path != "" && args.ID != "":
		return nil, DesignInspectOutput{}, fmt.Errorf("path and id are mutually exclusive")
	case args.ID != "":
		m, err = s.catalog.LoadDesign(ctx, args.ID)
	case args.Path != "":
		var path string
		if path, err = pathutil.ResolveWithin(s.root, args.Path); err != nil {
			break
		}
		if strings.EqualFold(filepath.Ext(path), columnar.Ext) {
			m, err = columnar.Import(path)
		} else {
			m, err = design.Load(path)
		}
	default:
		return nil, DesignInspectOutput{}, fmt.Errorf("path or id is required")
	}
	if err != nil {
		return nil, DesignInspectOutput{}, err
	}

	return nil, summarizeDesign(m), nil
}

func summarizeDesign(m *design.Matrix) DesignInspectOutput {
	out := DesignInspectOutput{
		Predictors:     make([]PredictorSummary, 0, m.Len()),
		DataPoints:     m.DataPoints(),
		FirstConfound:  m.FirstConfound(),
		HasConstant:    m.HasConstant(),
		TR:             m.TR,
		Transformation: m.Transformation.String(),
	}
	first, confounds := m.FirstConfound()-1, len(m.ConfoundPredictors())
	for i, p := range m.Predictors() {
		ps := PredictorSummary{
			Name:     p.Name,
			Colour:   p.Colour.String(),
			Confound: i >= first && i < first+confounds,
		}
		if p.Len() > 0 {
			ps.Mean, ps.Std = stat.PopMeanStdDev(p.Values, nil)
			ps.Min = floats.Min(p.Values)
			ps.Max = floats.Max(p.Values)
		}
		out.Predictors = append(out.Predictors, ps)
	}
	return out
}

// handleCatalogList implements the catalog_list tool.
func (s *Server) handleCatalogList(ctx context.Context, req *sdk.CallToolRequest, args CatalogListInput) (_ *sdk.CallToolResult, _ CatalogListOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("catalog_list", start, retErr, map[string]any{"kind": args.Kind, "tag": args.Tag})
	}()

	var kind catalog.Kind
	if args.Kind != "" {
		k, err := catalog.ParseKind(args.Kind)
		if err != nil {
			return nil, CatalogListOutput{}, err
		}
		kind = k
	}
	entries, err := s.catalog.List(ctx, kind, args.Tag)
	if err != nil {
		return nil, CatalogListOutput{}, err
	}
	out := CatalogListOutput{Entries: make([]CatalogEntry, 0, len(entries)), Count: len(entries)}
	for _, e := range entries {
		out.Entries = append(out.Entries, CatalogEntry{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Name:      e.Name,
			Tags:      e.Tags,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}
