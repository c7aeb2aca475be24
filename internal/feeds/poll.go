package feeds

import (
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// PollOption is one choice of a poll.
type PollOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (o PollOption) Identity() string {
	return o.ID
}

// Poll is a question attached to an activity.
type Poll struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	UserID             string         `json:"user_id"`
	Options            []PollOption   `json:"options"`
	EnforceUniqueVote  bool           `json:"enforce_unique_vote"`
	MaxVotesAllowed    int            `json:"max_votes_allowed,omitempty"`
	AllowAnswers       bool           `json:"allow_answers"`
	IsClosed           bool           `json:"is_closed"`
	VoteCount          int            `json:"vote_count"`
	AnswersCount       int            `json:"answers_count"`
	VoteCountsByOption map[string]int `json:"vote_counts_by_option,omitempty"`
	OwnVotes           []PollVote     `json:"own_votes,omitempty"`
	Custom             map[string]any `json:"custom,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (p Poll) Identity() string {
	return p.ID
}

// PollVote is one user's vote for an option, or a free-text answer.
type PollVote struct {
	ID         string    `json:"id"`
	PollID     string    `json:"poll_id"`
	OptionID   string    `json:"option_id,omitempty"`
	IsAnswer   bool      `json:"is_answer,omitempty"`
	AnswerText string    `json:"answer_text,omitempty"`
	UserID     string    `json:"user_id"`
	User       User      `json:"user"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (v PollVote) Identity() string {
	return v.ID
}

// Scope returns the event scope of the vote's poll.
func (v PollVote) Scope() events.Scope {
	return events.Scope{ObjectID: v.PollID, ObjectType: ObjectPoll}
}

// WithVote folds a vote event into the poll's counters. A changed option
// can only be recounted when the previous vote is one of the own votes.
func (p Poll) WithVote(kind events.Kind, vote PollVote, currentUserID string) Poll {
	own := currentUserID != "" && vote.UserID == currentUserID
	counts := make(map[string]int, len(p.VoteCountsByOption)+1)
	for option, count := range p.VoteCountsByOption {
		counts[option] = count
	}

	switch kind {
	case events.KindAdded:
		if vote.IsAnswer {
			p.AnswersCount++
		} else {
			p.VoteCount++
			counts[vote.OptionID]++
		}
		if own {
			p.OwnVotes = upsertByID(p.OwnVotes, vote)
		}
	case events.KindUpdated:
		if own {
			for _, previous := range p.OwnVotes {
				if previous.ID == vote.ID && previous.OptionID != vote.OptionID && !vote.IsAnswer {
					counts[previous.OptionID] = adjust(counts[previous.OptionID], -1)
					counts[vote.OptionID]++
				}
			}
			p.OwnVotes = upsertByID(p.OwnVotes, vote)
		}
	case events.KindDeleted:
		if vote.IsAnswer {
			p.AnswersCount = adjust(p.AnswersCount, -1)
		} else {
			p.VoteCount = adjust(p.VoteCount, -1)
			counts[vote.OptionID] = adjust(counts[vote.OptionID], -1)
		}
		if own {
			p.OwnVotes = removeByID(p.OwnVotes, vote.ID)
		}
	}
	for option, count := range counts {
		if count == 0 {
			delete(counts, option)
		}
	}
	if len(counts) == 0 {
		counts = nil
	}
	p.VoteCountsByOption = counts
	return p
}

var (
	PollFieldID        = query.NewField("id", func(p Poll) any { return p.ID })
	PollFieldName      = query.NewField("name", func(p Poll) any { return p.Name })
	PollFieldUserID    = query.NewField("user_id", func(p Poll) any { return p.UserID })
	PollFieldIsClosed  = query.NewField("is_closed", func(p Poll) any { return p.IsClosed })
	PollFieldVoteCount = query.NewField("vote_count", func(p Poll) any { return p.VoteCount })
	PollFieldCreatedAt = query.NewField("created_at", func(p Poll) any { return timeValue(p.CreatedAt) })

	PollSortCreatedAt = query.NewTimeSortField("created_at", func(p Poll) time.Time { return p.CreatedAt })
	PollSortVoteCount = query.NewSortField("vote_count", func(p Poll) int { return p.VoteCount })
	PollSortName      = query.NewSortField("name", func(p Poll) string { return p.Name })

	PollCatalog = query.NewCatalog(
		[]query.Field[Poll]{PollFieldID, PollFieldName, PollFieldUserID, PollFieldIsClosed, PollFieldVoteCount, PollFieldCreatedAt},
		[]query.SortField[Poll]{PollSortCreatedAt, PollSortVoteCount, PollSortName},
		query.Desc(PollSortCreatedAt),
	)

	PollVoteFieldPollID    = query.NewField("poll_id", func(v PollVote) any { return v.PollID })
	PollVoteFieldOptionID  = query.NewField("option_id", func(v PollVote) any { return v.OptionID })
	PollVoteFieldUserID    = query.NewField("user_id", func(v PollVote) any { return v.UserID })
	PollVoteFieldIsAnswer  = query.NewField("is_answer", func(v PollVote) any { return v.IsAnswer })
	PollVoteFieldCreatedAt = query.NewField("created_at", func(v PollVote) any { return timeValue(v.CreatedAt) })

	PollVoteSortCreatedAt = query.NewTimeSortField("created_at", func(v PollVote) time.Time { return v.CreatedAt })

	PollVoteCatalog = query.NewCatalog(
		[]query.Field[PollVote]{PollVoteFieldPollID, PollVoteFieldOptionID, PollVoteFieldUserID, PollVoteFieldIsAnswer, PollVoteFieldCreatedAt},
		[]query.SortField[PollVote]{PollVoteSortCreatedAt},
		query.Desc(PollVoteSortCreatedAt),
	)
)

// PollRules routes poll events; votes update the poll they belong to.
func PollRules(opts Options) view.Rules[Poll] {
	userID := opts.CurrentUserID
	return view.Rules[Poll]{
		Type:    events.EntityPoll,
		Cast:    castEntity[Poll],
		InScope: inScope(opts.Scope),
		Carry: func(held, incoming Poll) Poll {
			incoming.OwnVotes = held.OwnVotes
			return incoming
		},
		Extra: func(event events.ChangeEvent) (view.Action[Poll], bool) {
			if event.Type != events.EntityPollVote {
				return view.Action[Poll]{}, false
			}
			vote, ok := castEntity[PollVote](event.Entity)
			if !ok || vote.PollID == "" {
				return view.Action[Poll]{}, false
			}
			kind := event.Kind
			return view.Action[Poll]{Kind: view.ActionUpdate, ID: vote.PollID, Mutate: func(poll Poll) Poll {
				return poll.WithVote(kind, vote, userID)
			}}, true
		},
	}
}

// NewPollView builds a live view over polls.
func NewPollView(fetcher query.Fetcher[Poll], q query.Query[Poll], opts Options) (*view.View[Poll], error) {
	return newView(fetcher, q, PollCatalog, PollRules(opts), nil, opts)
}

// PollVoteRules routes vote events of one poll.
func PollVoteRules(opts Options) view.Rules[PollVote] {
	return view.Rules[PollVote]{
		Type:    events.EntityPollVote,
		Cast:    castEntity[PollVote],
		InScope: inScope(opts.Scope),
		ApplyUser: func(vote PollVote, user any) (PollVote, bool) {
			next, ok := vote.User.refresh(user)
			if !ok {
				return vote, false
			}
			vote.User = next
			return vote, true
		},
	}
}

// NewPollVoteView follows the votes of one poll.
func NewPollVoteView(fetcher query.Fetcher[PollVote], pollID string, q query.Query[PollVote], opts Options) (*view.View[PollVote], error) {
	opts.Scope = events.Scope{ObjectID: pollID, ObjectType: ObjectPoll}
	q.Filter = query.And(query.Equal(PollVoteFieldPollID, pollID), q.Filter)
	return newView(fetcher, q, PollVoteCatalog, PollVoteRules(opts), nil, opts)
}
