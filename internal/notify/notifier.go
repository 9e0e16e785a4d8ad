// Package notify decides who gets pinged about a review-ready merge request
// and makes sure that happens at most once per calendar day.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mrmonitor/internal/domain"
)

// Outcome is the result of one notification attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// CodeHost is the slice of the code-hosting API the notifier needs.
type CodeHost interface {
	AddReviewers(ctx context.Context, projectID, iid int, usernames []string) error
}

// Chat is the slice of the chat API the notifier needs.
type Chat interface {
	ResolveUser(ctx context.Context, personName string) (string, error)
	PostMessage(ctx context.Context, channel, text string) error
}

// Ledger gates sends to one per request per calendar day.
type Ledger interface {
	IsNotificationDue(repository string, id int, today time.Time) bool
	RecordNotified(repository string, id int, today time.Time)
}

// Config holds the notifier's externalized policy knobs.
type Config struct {
	Channel string
	// CoverageReviewers are the usernames eligible for auto-assignment when
	// a request is approved except for its coverage check.
	CoverageReviewers []string
}

// Notifier posts review reminders for ready merge requests.
type Notifier struct {
	host   CodeHost
	chat   Chat
	ledger Ledger
	cache  *PersonCache
	cfg    Config
	logger *slog.Logger
}

// NewNotifier creates a notifier.
// Follows Dependency Injection - the ledger and clients come in, no globals.
func NewNotifier(host CodeHost, chat Chat, ledger Ledger, cache *PersonCache, cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{host: host, chat: chat, ledger: ledger, cache: cache, cfg: cfg, logger: logger}
}

// NotifyIfDue sends at most one reminder for a ready merge request per
// calendar day. The ledger is written only after the chat post is confirmed;
// on failure it is left untouched so the next cycle retries.
func (n *Notifier) NotifyIfDue(ctx context.Context, snapshot domain.StatusSnapshot, fact domain.MergeRequestFact, today time.Time) Outcome {
	log := n.logger.With("repo", fact.Repository, "mr", fact.ID)

	if !snapshot.Ready {
		return OutcomeSkipped
	}
	if !n.ledger.IsNotificationDue(fact.Repository, fact.ID, today) {
		return OutcomeSkipped
	}

	// Fully approved requests need no reminder; mark them so they are not
	// re-inspected until a new day.
	if fact.Approval.Err == nil && fact.Approval.State.ApprovedByAll {
		log.Info("all approvals in, suppressing reminder")
		n.ledger.RecordNotified(fact.Repository, fact.ID, today)
		return OutcomeSkipped
	}

	recipients := n.pendingReviewers(fact)
	recipients = append(recipients, n.assignCoverageReviewers(ctx, fact, log)...)

	if len(recipients) == 0 {
		log.Info("no pending reviewers, suppressing reminder")
		n.ledger.RecordNotified(fact.Repository, fact.ID, today)
		return OutcomeSkipped
	}

	message := n.formatMessage(ctx, fact.WebURL, recipients, log)
	if err := n.chat.PostMessage(ctx, n.cfg.Channel, message); err != nil {
		log.Error("could not post reminder", "op", "PostMessage", "error", err)
		return OutcomeFailed
	}

	n.ledger.RecordNotified(fact.Repository, fact.ID, today)
	log.Info("reminder sent", "recipients", len(recipients))
	return OutcomeSent
}

// pendingReviewers returns the reviewers who have not approved yet.
func (n *Notifier) pendingReviewers(fact domain.MergeRequestFact) []string {
	var pending []string
	for _, r := range fact.Reviewers {
		if !r.Approved {
			pending = append(pending, r.Name)
		}
	}
	return pending
}

// assignCoverageReviewers assigns the configured coverage rotation when the
// request is approved except for its coverage check and none of them is on
// the request yet. Returns the names to add to the recipient set. Assignment
// failure is logged and never blocks the reminder itself.
func (n *Notifier) assignCoverageReviewers(ctx context.Context, fact domain.MergeRequestFact, log *slog.Logger) []string {
	if len(n.cfg.CoverageReviewers) == 0 || fact.Approval.Err != nil {
		return nil
	}
	state := fact.Approval.State
	if fact.Pipeline.Status != domain.PipelineSuccess ||
		!state.ApprovedExceptCoverage || !state.NeedsCoverageCheck {
		return nil
	}

	assigned := make(map[string]bool, len(fact.Reviewers))
	for _, r := range fact.Reviewers {
		assigned[r.Username] = true
	}
	for _, username := range n.cfg.CoverageReviewers {
		if assigned[username] {
			// a coverage reviewer is already on the request
			return nil
		}
	}

	if err := n.host.AddReviewers(ctx, fact.ProjectID, fact.ID, n.cfg.CoverageReviewers); err != nil {
		log.Warn("could not assign coverage reviewers", "op", "AddReviewers", "error", err)
		return nil
	}
	log.Info("assigned coverage reviewers", "usernames", n.cfg.CoverageReviewers)
	return n.cfg.CoverageReviewers
}

// formatMessage builds the reminder text, translating each recipient to a
// chat mention through the person cache. A person without a handle appears
// by name; a failed lookup drops that recipient only.
func (n *Notifier) formatMessage(ctx context.Context, mrURL string, recipients []string, log *slog.Logger) string {
	var mentions []string
	for _, person := range recipients {
		id, known := n.cache.Get(person)
		if !known {
			var err error
			id, err = n.resolve(ctx, person)
			if err != nil {
				log.Warn("could not resolve recipient", "person", person, "error", err)
				continue
			}
		}
		if id == "" {
			mentions = append(mentions, person)
		} else {
			mentions = append(mentions, fmt.Sprintf("<@%s>", id))
		}
	}

	who := "reviewers"
	if len(mentions) > 0 {
		who = strings.Join(mentions, ", ")
	}
	return fmt.Sprintf("Please review %s: %s (ty)", who, mrURL)
}

// resolve looks a person up in chat and caches the result, including misses.
func (n *Notifier) resolve(ctx context.Context, person string) (string, error) {
	id, err := n.chat.ResolveUser(ctx, person)
	if err != nil {
		if domain.IsNotFound(err) {
			n.cache.PutMiss(person)
			return "", nil
		}
		return "", err
	}
	n.cache.Put(person, id)
	return id, nil
}
