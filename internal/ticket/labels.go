package ticket

import "fmt"

// Labels holds the wording of system messages for one display language.
type Labels struct {
	SystemName      string
	Opened          string
	Unassigned      string
	Status          map[Status]string
	Priority        map[Priority]string
	statusChanged   string
	priorityChanged string
	assigned        string
}

func (l Labels) StatusChanged(s Status) string {
	return fmt.Sprintf(l.statusChanged, l.Status[s])
}

func (l Labels) PriorityChanged(p Priority) string {
	return fmt.Sprintf(l.priorityChanged, l.Priority[p])
}

func (l Labels) Assigned(agentName string) string {
	return fmt.Sprintf(l.assigned, agentName)
}

var labels = map[string]Labels{
	"ar": {
		SystemName: "النظام",
		Opened:     "تم فتح التذكرة",
		Unassigned: "تم إلغاء تعيين التذكرة",
		Status: map[Status]string{
			StatusOpen:    "مفتوحة",
			StatusPending: "قيد الانتظار",
			StatusClosed:  "مغلقة",
		},
		Priority: map[Priority]string{
			PriorityLow:    "منخفضة",
			PriorityMedium: "متوسطة",
			PriorityHigh:   "عالية",
		},
		statusChanged:   `تم تغيير حالة التذكرة إلى "%s"`,
		priorityChanged: `تم تغيير الأولوية إلى "%s"`,
		assigned:        "تم تعيين التذكرة إلى %s",
	},
	"en": {
		SystemName: "System",
		Opened:     "Ticket opened",
		Unassigned: "Ticket unassigned",
		Status: map[Status]string{
			StatusOpen:    "Open",
			StatusPending: "Pending",
			StatusClosed:  "Closed",
		},
		Priority: map[Priority]string{
			PriorityLow:    "Low",
			PriorityMedium: "Medium",
			PriorityHigh:   "High",
		},
		statusChanged:   `Ticket status changed to "%s"`,
		priorityChanged: `Priority changed to "%s"`,
		assigned:        "Ticket assigned to %s",
	},
}

// LabelsFor returns the labels of lang, falling back to Arabic.
func LabelsFor(lang string) Labels {
	if l, ok := labels[lang]; ok {
		return l
	}
	return labels["ar"]
}
