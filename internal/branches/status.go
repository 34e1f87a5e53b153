package branches

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/registry"
)

const (
	statusUseConstant                    = "status"
	statusShortDescriptionConstant       = "Show recorded prune state per repository"
	statusLongDescriptionConstant        = "status lists the repositories recorded in the prune registry with their hosting association, last prune time, and the earliest time the next prune may run."
	statusExecutionErrorTemplateConstant = "status failed: %w"
	statusHeaderConstant                 = "REPOSITORY\tHOSTED AS\tDEFAULT BRANCH\tLAST PRUNE\tNEXT ELIGIBLE"
	statusRowTemplateConstant            = "%s\t%s\t%s\t%s\t%s\n"
	statusHostedTemplateConstant         = "%s/%s"
	statusNeverConstant                  = "never"
	statusNowConstant                    = "now"
	statusTimeLayoutConstant             = time.RFC3339
)

// StatusCommandBuilder assembles the Cobra command that reports registry state.
type StatusCommandBuilder struct {
	ConfigurationProvider ConfigurationProvider
	Collaborators         Collaborators
}

// Build constructs the status command.
func (builder *StatusCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   statusUseConstant,
		Short: statusShortDescriptionConstant,
		Long:  statusLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}

	defaults := DefaultCommandConfiguration()
	command.Flags().String(flagRegistryNameConstant, defaults.RegistryPath, flagRegistryDescriptionConstant)
	command.Flags().Duration(flagCooldownNameConstant, defaults.Cooldown, flagCooldownDescriptionConstant)

	return command, nil
}

func (builder *StatusCommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration := DefaultCommandConfiguration()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}
	if command.Flags().Changed(flagRegistryNameConstant) {
		configuration.RegistryPath, _ = command.Flags().GetString(flagRegistryNameConstant)
	}
	if command.Flags().Changed(flagCooldownNameConstant) {
		configuration.Cooldown, _ = command.Flags().GetDuration(flagCooldownNameConstant)
	}
	configuration = configuration.sanitize()

	clock := builder.Collaborators.Clock
	if clock == nil {
		clock = pruning.SystemClock{}
	}

	fileRegistry, registryError := openRegistry(configuration.RegistryPath, clock)
	if registryError != nil {
		return fmt.Errorf(statusExecutionErrorTemplateConstant, registryError)
	}

	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}

	entries, entriesError := fileRegistry.Entries(executionContext)
	if entriesError != nil {
		return fmt.Errorf(statusExecutionErrorTemplateConstant, entriesError)
	}

	renderStatus(command.OutOrStdout(), entries, configuration.Cooldown, clock.Now())
	return nil
}

func renderStatus(output io.Writer, entries []registry.Entry, cooldown time.Duration, now time.Time) {
	tableWriter := newTableWriter(output)
	fmt.Fprintln(tableWriter, statusHeaderConstant)
	for _, entry := range entries {
		hostedAs := reportEmptyCellConstant
		defaultBranch := reportEmptyCellConstant
		if hostingAssociation := entry.Hosting(); hostingAssociation != nil {
			hostedAs = fmt.Sprintf(statusHostedTemplateConstant, hostingAssociation.Owner, hostingAssociation.Repository)
			if len(hostingAssociation.DefaultBranch) > 0 {
				defaultBranch = hostingAssociation.DefaultBranch
			}
		}

		lastPrune := statusNeverConstant
		nextEligible := statusNowConstant
		if !entry.LastPruneTimestamp.IsZero() {
			lastPrune = entry.LastPruneTimestamp.UTC().Format(statusTimeLayoutConstant)
			if eligibleAt := entry.LastPruneTimestamp.Add(cooldown); eligibleAt.After(now) {
				nextEligible = eligibleAt.UTC().Format(statusTimeLayoutConstant)
			}
		}

		path := entry.Path
		if len(path) == 0 {
			path = entry.RepositoryID
		}
		fmt.Fprintf(tableWriter, statusRowTemplateConstant, path, hostedAs, defaultBranch, lastPrune, nextEligible)
	}
	_ = tableWriter.Flush()
}
