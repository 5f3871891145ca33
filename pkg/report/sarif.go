package report

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
)

const (
	toolName           = "codesift"
	toolInformationURI = "https://github.com/Sumatoshi-tech/codesift"
	fingerprintKey     = "codesift/v1"
	suppressionKind    = "inSource"
	columnKind         = "unicodeCodePoints"
)

func sarifLevel(severity rules.Severity) string {
	switch severity {
	case rules.SeverityError:
		return "error"
	case rules.SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

// ruleDescriptor is what the SARIF driver says about one rule.
type ruleDescriptor struct {
	id          string
	description string
	category    string
	severity    rules.Severity
}

func describeRules(findings []engine.Finding, loaded []*rules.Rule) []ruleDescriptor {
	var descriptors []ruleDescriptor

	if loaded != nil {
		for _, rule := range loaded {
			description := rule.Message
			if text, ok := rule.Metadata["description"].(string); ok && text != "" {
				description = text
			}

			descriptors = append(descriptors, ruleDescriptor{
				id:          rule.ID,
				description: description,
				category:    rule.Category,
				severity:    rule.Severity,
			})
		}
	} else {
		seen := make(map[string]struct{})

		for _, finding := range findings {
			if _, ok := seen[finding.RuleID]; ok {
				continue
			}

			seen[finding.RuleID] = struct{}{}
			descriptors = append(descriptors, ruleDescriptor{
				id:          finding.RuleID,
				description: finding.Message,
				category:    finding.Category,
				severity:    finding.Severity,
			})
		}
	}

	slices.SortFunc(descriptors, func(left, right ruleDescriptor) int {
		return strings.Compare(left.id, right.id)
	})

	return descriptors
}

// renderSARIF writes a SARIF 2.1.0 log with one run. Suppressed findings are
// kept and carry an inSource suppression.
func renderSARIF(findings []engine.Finding, opts Options) ([]byte, error) {
	sarifLog, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("create sarif report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(toolName, toolInformationURI).WithColumnKind(columnKind)
	if opts.ToolVersion != "" {
		version := opts.ToolVersion
		run.Tool.Driver.Version = &version
	}

	for _, descriptor := range describeRules(findings, opts.Rules) {
		rule := run.AddRule(descriptor.id).
			WithDescription(descriptor.description).
			WithDefaultConfiguration(sarif.NewReportingConfiguration().WithLevel(sarifLevel(descriptor.severity)))

		if descriptor.category != "" {
			rule.WithProperties(sarif.Properties{"category": descriptor.category})
		}
	}

	for _, finding := range findings {
		run.AddResult(sarifResult(finding))
	}

	sarifLog.AddRun(run)

	var buf bytes.Buffer
	if err := sarifLog.PrettyWrite(&buf); err != nil {
		return nil, fmt.Errorf("write sarif report: %w", err)
	}

	return buf.Bytes(), nil
}

func sarifResult(finding engine.Finding) *sarif.Result {
	region := sarif.NewRegion().
		WithStartLine(finding.Start.Line).
		WithStartColumn(finding.Start.Col).
		WithEndLine(finding.End.Line).
		WithEndColumn(finding.End.Col)

	location := sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(finding.Path)).
			WithRegion(region),
	)

	result := sarif.NewRuleResult(finding.RuleID).
		WithMessage(sarif.NewTextMessage(finding.Message)).
		WithLevel(sarifLevel(finding.Severity)).
		WithLocations([]*sarif.Location{location})

	result.PartialFingerprints = map[string]interface{}{
		fingerprintKey + "/" + finding.RuleID: finding.Fingerprint,
	}

	if finding.Suppressed {
		result.Suppressions = []*sarif.Suppression{{Kind: suppressionKind}}
	}

	return result
}
