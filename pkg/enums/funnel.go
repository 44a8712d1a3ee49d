package enums

// Funnel names one of the two independent purchase flows.
type Funnel string

const (
	FunnelWebinar Funnel = "webinar"
	FunnelCourse  Funnel = "course"
)

// String implements fmt.Stringer.
func (f Funnel) String() string {
	return string(f)
}
