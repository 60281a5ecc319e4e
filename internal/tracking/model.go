package tracking

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

type ReferenceType string

const (
	HomeTest     ReferenceType = "home_test"
	HomeNursing  ReferenceType = "home_nursing"
	ProductOrder ReferenceType = "product_order"
)

func (r ReferenceType) IsValid() bool {
	switch r {
	case HomeTest, HomeNursing, ProductOrder:
		return true
	}
	return false
}

type ChangedBy string

const (
	BySystem     ChangedBy = "system"
	ByAdmin      ChangedBy = "admin"
	ByTechnician ChangedBy = "technician"
	ByDelivery   ChangedBy = "delivery"
)

func (c ChangedBy) IsValid() bool {
	switch c {
	case BySystem, ByAdmin, ByTechnician, ByDelivery:
		return true
	}
	return false
}

// Statuses with side effects on the record.
const (
	StatusResultsReady = "results_ready"
	StatusDelivered    = "delivered"
	StatusCompleted    = "completed"
)

type HistoryEntry struct {
	Status        string    `bson:"status" json:"status"`
	Note          string    `bson:"note,omitempty" json:"note,omitempty"`
	ChangedBy     ChangedBy `bson:"changedBy" json:"changedBy"`
	ChangedByName string    `bson:"changedByName,omitempty" json:"changedByName,omitempty"`
	// Forced marks a backward or skipping move along the ordered statuses.
	Forced    bool      `bson:"forced,omitempty" json:"forced,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Record is the tracking document for one subject. CurrentStatus always
// equals the status of the last history entry.
type Record struct {
	ID                string         `bson:"_id" json:"id"`
	TrackingNumber    string         `bson:"trackingNumber" json:"trackingNumber"`
	ReferenceType     ReferenceType  `bson:"referenceType" json:"referenceType"`
	ReferenceID       string         `bson:"referenceId" json:"referenceId"`
	CurrentStatus     string         `bson:"currentStatus" json:"currentStatus"`
	StatusHistory     []HistoryEntry `bson:"statusHistory" json:"statusHistory"`
	OrderedStatuses   []string       `bson:"orderedStatuses" json:"orderedStatuses"`
	AssignedTo        string         `bson:"assignedTo,omitempty" json:"assignedTo,omitempty"`
	AssignedToPhone   string         `bson:"assignedToPhone,omitempty" json:"assignedToPhone,omitempty"`
	ResultsFileURL    string         `bson:"resultsFileUrl,omitempty" json:"resultsFileUrl,omitempty"`
	Notes             string         `bson:"notes,omitempty" json:"notes,omitempty"`
	EstimatedDelivery *time.Time     `bson:"estimatedDelivery,omitempty" json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time     `bson:"actualDelivery,omitempty" json:"actualDelivery,omitempty"`
	CreatedAt         time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// Fields are optional record attributes merged on update. Nil leaves the
// stored value alone.
type Fields struct {
	AssignedTo      *string
	AssignedToPhone *string
	ResultsFileURL  *string
	Notes           *string
	ActualDelivery  *time.Time
}

func (f Fields) apply(r *Record) {
	if f.AssignedTo != nil {
		r.AssignedTo = *f.AssignedTo
	}
	if f.AssignedToPhone != nil {
		r.AssignedToPhone = *f.AssignedToPhone
	}
	if f.ResultsFileURL != nil {
		r.ResultsFileURL = *f.ResultsFileURL
	}
	if f.Notes != nil {
		r.Notes = *f.Notes
	}
	if f.ActualDelivery != nil {
		at := *f.ActualDelivery
		r.ActualDelivery = &at
	}
}

type ListFilter struct {
	ReferenceType ReferenceType
	Status        string
	Search        string
	Page          int
	Limit         int
}

type Page struct {
	Records []Record
	Total   int
	Page    int
	Limit   int
	Pages   int
}

type StatusInfo struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	LabelEn string `json:"labelEn"`
}

// Vocabulary is the status set of one reference type. Ordered is the
// linear progression; OutOfBand statuses can be entered from anywhere.
type Vocabulary struct {
	Prefix    string
	Ordered   []StatusInfo
	OutOfBand []StatusInfo
	// SubjectStatus maps a tracking status to the status written on the
	// subject entity. Unmapped statuses leave the subject alone.
	SubjectStatus map[string]string
}

func (v Vocabulary) OrderedKeys() []string {
	keys := make([]string, len(v.Ordered))
	for i, s := range v.Ordered {
		keys[i] = s.Key
	}
	return keys
}

// Index returns the position of status in the ordered list, or -1.
func (v Vocabulary) Index(status string) int {
	return slices.IndexFunc(v.Ordered, func(s StatusInfo) bool { return s.Key == status })
}

func (v Vocabulary) Contains(status string) bool {
	_, ok := v.Info(status)
	return ok
}

func (v Vocabulary) Info(status string) (StatusInfo, bool) {
	for _, s := range v.All() {
		if s.Key == status {
			return s, true
		}
	}
	return StatusInfo{}, false
}

func (v Vocabulary) All() []StatusInfo {
	return append(slices.Clone(v.Ordered), v.OutOfBand...)
}

// Vocabularies maps each reference type to its statuses.
type Vocabularies map[ReferenceType]Vocabulary

func DefaultVocabularies() Vocabularies {
	created := StatusInfo{"order_created", "تم إنشاء الطلب", "Order Created"}
	paid := StatusInfo{"payment_confirmed", "تم تأكيد الدفع", "Payment Confirmed"}
	completed := StatusInfo{StatusCompleted, "مكتمل", "Completed"}
	cancelled := StatusInfo{"cancelled", "ملغى", "Cancelled"}
	rescheduled := StatusInfo{"rescheduled", "تم إعادة الجدولة", "Rescheduled"}

	return Vocabularies{
		HomeTest: {
			Prefix: "HT",
			Ordered: []StatusInfo{
				created,
				paid,
				{"technician_assigned", "تم تعيين الفني", "Technician Assigned"},
				{"technician_on_way", "الفني في الطريق", "Technician On the Way"},
				{"sample_collected", "تم جمع العينة", "Sample Collected"},
				{"sample_in_analysis", "العينة قيد التحليل", "Sample In Analysis"},
				{StatusResultsReady, "النتائج جاهزة", "Results Ready"},
				completed,
			},
			OutOfBand: []StatusInfo{cancelled, rescheduled},
			SubjectStatus: map[string]string{
				"order_created":       "جاري",
				"payment_confirmed":   "جاري",
				"technician_assigned": "جاري",
				"technician_on_way":   "جاري",
				"sample_collected":    "جاري",
				"sample_in_analysis":  "جاري",
				StatusResultsReady:    "جاري",
				StatusCompleted:       "مكتمل",
				"cancelled":           "ملغى",
			},
		},
		HomeNursing: {
			Prefix: "HN",
			Ordered: []StatusInfo{
				created,
				paid,
				{"nurse_assigned", "تم تعيين الممرض", "Nurse Assigned"},
				{"nurse_on_way", "الممرض في الطريق", "Nurse On the Way"},
				{"visit_in_progress", "الزيارة جارية", "Visit In Progress"},
				{"visit_completed", "تمت الزيارة", "Visit Completed"},
				completed,
			},
			OutOfBand: []StatusInfo{cancelled, rescheduled},
			SubjectStatus: map[string]string{
				"order_created":     "pending",
				"payment_confirmed": "confirmed",
				"nurse_assigned":    "confirmed",
				"nurse_on_way":      "in_progress",
				"visit_in_progress": "in_progress",
				"visit_completed":   "completed",
				StatusCompleted:     "completed",
				"cancelled":         "cancelled",
			},
		},
		ProductOrder: {
			Prefix: "PO",
			Ordered: []StatusInfo{
				created,
				paid,
				{"preparing", "جاري التجهيز", "Preparing Order"},
				{"shipped", "تم الشحن", "Shipped"},
				{"out_for_delivery", "في الطريق للتوصيل", "Out for Delivery"},
				{StatusDelivered, "تم التوصيل", "Delivered"},
				completed,
			},
			OutOfBand: []StatusInfo{
				cancelled,
				{"returned", "مرتجع", "Returned"},
				{"refunded", "تم الاسترداد", "Refunded"},
			},
			SubjectStatus: map[string]string{
				"order_created":     "pending",
				"payment_confirmed": "pending",
				"preparing":         "processing",
				"shipped":           "shipped",
				"out_for_delivery":  "shipped",
				StatusDelivered:     "delivered",
				StatusCompleted:     "delivered",
				"cancelled":         "cancelled",
			},
		},
	}
}

type Phase string

const (
	PhasePast     Phase = "past"
	PhaseCurrent  Phase = "current"
	PhaseUpcoming Phase = "upcoming"
)

type Classified struct {
	Status string `json:"status"`
	Phase  Phase  `json:"phase"`
}

// Classify places every ordered status relative to current. When current is
// not part of ordered (an out-of-band status) every entry is upcoming.
func Classify(ordered []string, current string) []Classified {
	idx := slices.Index(ordered, current)
	out := make([]Classified, len(ordered))
	for i, s := range ordered {
		phase := PhaseUpcoming
		switch {
		case idx < 0:
		case i < idx:
			phase = PhasePast
		case i == idx:
			phase = PhaseCurrent
		}
		out[i] = Classified{Status: s, Phase: phase}
	}
	return out
}

// NewTrackingNumber returns prefix + yymm + 5 random digits.
func NewTrackingNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s%02d%02d%05d", prefix, now.Year()%100, int(now.Month()), rand.IntN(100000))
}
