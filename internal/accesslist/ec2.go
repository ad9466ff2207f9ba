package accesslist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/melih-ucgun/doorman/internal/core"
)

// EC2API is the subset of the EC2 client used for managed prefix lists.
type EC2API interface {
	DescribeManagedPrefixLists(ctx context.Context, in *ec2.DescribeManagedPrefixListsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeManagedPrefixListsOutput, error)
	GetManagedPrefixListEntries(ctx context.Context, in *ec2.GetManagedPrefixListEntriesInput, optFns ...func(*ec2.Options)) (*ec2.GetManagedPrefixListEntriesOutput, error)
	ModifyManagedPrefixList(ctx context.Context, in *ec2.ModifyManagedPrefixListInput, optFns ...func(*ec2.Options)) (*ec2.ModifyManagedPrefixListOutput, error)
}

// EC2Config configures the AWS managed prefix list backend.
type EC2Config struct {
	ListID   string
	Region   string // empty uses the default chain (AWS_REGION, profile)
	Endpoint string // custom endpoint, e.g. LocalStack
	// SettleInterval is the polling period while a modification is in
	// progress. Zero disables waiting.
	SettleInterval time.Duration
}

// EC2Backend talks to an EC2 managed prefix list.
type EC2Backend struct {
	api    EC2API
	cfg    EC2Config
	logger core.Logger
}

// NewEC2Backend builds an EC2 client from the ambient credential chain.
// SDK-level retries are disabled; Client owns the retry budget.
func NewEC2Backend(ctx context.Context, cfg EC2Config, logger core.Logger) (*EC2Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	opts = append(opts, config.WithRetryMaxAttempts(1))

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var ec2Opts []func(*ec2.Options)
	if cfg.Endpoint != "" {
		ec2Opts = append(ec2Opts, func(o *ec2.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewEC2BackendWithAPI(ec2.NewFromConfig(awsCfg, ec2Opts...), cfg, logger), nil
}

func NewEC2BackendWithAPI(api EC2API, cfg EC2Config, logger core.Logger) *EC2Backend {
	return &EC2Backend{api: api, cfg: cfg, logger: logger}
}

func (b *EC2Backend) ListID() string { return b.cfg.ListID }

func (b *EC2Backend) Describe(ctx context.Context) (ListInfo, error) {
	pl, err := b.describe(ctx)
	if err != nil {
		return ListInfo{}, err
	}
	return listInfo(pl), nil
}

func (b *EC2Backend) describe(ctx context.Context) (types.ManagedPrefixList, error) {
	out, err := b.api.DescribeManagedPrefixLists(ctx, &ec2.DescribeManagedPrefixListsInput{
		PrefixListIds: []string{b.cfg.ListID},
	})
	if err != nil {
		return types.ManagedPrefixList{}, b.classify("describe", err)
	}

	// Filtering by ID yields exactly one list or an error.
	switch {
	case out.NextToken != nil || len(out.PrefixLists) > 1:
		return types.ManagedPrefixList{}, NewError(ErrConflict, "describe", b.cfg.ListID,
			errors.New("got too many prefix lists"))
	case len(out.PrefixLists) == 0:
		return types.ManagedPrefixList{}, NewError(ErrNotFound, "describe", b.cfg.ListID,
			errors.New("prefix list not found"))
	}
	return out.PrefixLists[0], nil
}

func (b *EC2Backend) Entries(ctx context.Context) (Snapshot, error) {
	pl, err := b.describe(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	info := listInfo(pl)

	var entries []Entry
	var next *string
	for {
		out, err := b.api.GetManagedPrefixListEntries(ctx, &ec2.GetManagedPrefixListEntriesInput{
			PrefixListId:  aws.String(b.cfg.ListID),
			TargetVersion: pl.Version,
			NextToken:     next,
		})
		if err != nil {
			return Snapshot{}, b.classify("entries", err)
		}
		for _, e := range out.Entries {
			cidr, err := netip.ParsePrefix(aws.ToString(e.Cidr))
			if err != nil {
				if b.logger != nil {
					b.logger.Warn("skipping unparsable entry", "list", b.cfg.ListID, "cidr", aws.ToString(e.Cidr))
				}
				continue
			}
			entries = append(entries, Entry{
				CIDR:        cidr,
				Description: aws.ToString(e.Description),
				Version:     info.Version,
				Position:    len(entries),
			})
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		next = out.NextToken
	}

	return Snapshot{Info: info, Entries: entries}, nil
}

func (b *EC2Backend) Modify(ctx context.Context, version string, add []Entry, remove []netip.Prefix) (string, error) {
	current, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return "", NewError(ErrVersionConflict, "modify", b.cfg.ListID, fmt.Errorf("bad version %q", version))
	}

	in := &ec2.ModifyManagedPrefixListInput{
		PrefixListId:   aws.String(b.cfg.ListID),
		CurrentVersion: aws.Int64(current),
	}
	for _, e := range add {
		in.AddEntries = append(in.AddEntries, types.AddPrefixListEntry{
			Cidr:        aws.String(e.CIDR.String()),
			Description: aws.String(e.Description),
		})
	}
	for _, cidr := range remove {
		in.RemoveEntries = append(in.RemoveEntries, types.RemovePrefixListEntry{
			Cidr: aws.String(cidr.String()),
		})
	}

	out, err := b.api.ModifyManagedPrefixList(ctx, in)
	if err != nil {
		return "", b.classify("modify", err)
	}

	next := current + 1
	if out.PrefixList != nil && out.PrefixList.Version != nil {
		next = *out.PrefixList.Version
	}
	if err := b.settle(ctx); err != nil {
		return "", err
	}
	return strconv.FormatInt(next, 10), nil
}

// settle waits until the list leaves the *-in-progress state, so that the
// next modification in the same cycle does not fail with IncorrectState.
func (b *EC2Backend) settle(ctx context.Context) error {
	if b.cfg.SettleInterval <= 0 {
		return nil
	}
	for {
		pl, err := b.describe(ctx)
		if err != nil {
			return err
		}
		state := string(pl.State)
		if !strings.HasSuffix(state, "-in-progress") {
			if strings.HasSuffix(state, "-failed") {
				return NewError(ErrConflict, "modify", b.cfg.ListID,
					fmt.Errorf("modification failed: %s", aws.ToString(pl.StateMessage)))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return NewError(ErrTransient, "modify", b.cfg.ListID, ctx.Err())
		case <-time.After(b.cfg.SettleInterval):
		}
	}
}

func listInfo(pl types.ManagedPrefixList) ListInfo {
	return ListInfo{
		ID:            aws.ToString(pl.PrefixListId),
		Name:          aws.ToString(pl.PrefixListName),
		Version:       strconv.FormatInt(aws.ToInt64(pl.Version), 10),
		AddressFamily: aws.ToString(pl.AddressFamily),
		MaxEntries:    int(aws.ToInt32(pl.MaxEntries)),
		State:         string(pl.State),
	}
}

// classify maps SDK errors onto error kinds.
func (b *EC2Backend) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrTransient, op, b.cfg.ListID, err)
	}
	return NewError(classifyEC2(err), op, b.cfg.ListID, err)
}

func classifyEC2(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := strings.ToLower(apiErr.ErrorMessage())
		switch code {
		case "InvalidPrefixListID.NotFound", "InvalidPrefixListId.NotFound", "InvalidPrefixListID.Malformed":
			return ErrNotFound
		case "PrefixListVersionMismatch":
			return ErrVersionConflict
		case "PrefixListMaxEntriesExceeded", "PrefixListEntryLimitExceeded":
			return ErrQuotaExceeded
		case "InvalidPrefixListModification":
			switch {
			case strings.Contains(msg, "version"):
				return ErrVersionConflict
			case strings.Contains(msg, "max") && strings.Contains(msg, "entries"):
				return ErrQuotaExceeded
			}
			return ErrConflict
		case "DuplicateEntry", "InvalidParameterValue":
			return ErrConflict
		case "UnauthorizedOperation", "AuthFailure", "AccessDenied", "AccessDeniedException":
			return ErrForbidden
		case "RequestLimitExceeded", "Throttling", "ThrottlingException", "IncorrectState",
			"InternalError", "InternalFailure", "ServiceUnavailable", "Unavailable":
			return ErrTransient
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return ErrTransient
		}
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTransient
	}
	return nil
}
