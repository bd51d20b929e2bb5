package marketing

// Schema describes the trigger types, actions and template variables an
// admin UI can offer.
type Schema struct {
	TriggerTypes []TriggerTypeSchema `json:"triggerTypes"`
	Actions      []ActionSchema      `json:"actions"`
	Variables    []VariableSchema    `json:"variables"`
}

// TriggerTypeSchema describes a trigger type and its conditions.
type TriggerTypeSchema struct {
	Name       string        `json:"name"`
	Label      string        `json:"label"`
	Source     string        `json:"source"` // "event" or "scheduler"
	Event      string        `json:"event,omitempty"`
	Conditions []FieldSchema `json:"conditions"`
}

// ActionSchema describes an action and its config fields.
type ActionSchema struct {
	Name   string        `json:"name"`
	Label  string        `json:"label"`
	Costed bool          `json:"costed"` // counts against the trigger budget
	Fields []FieldSchema `json:"fields"`
}

// FieldSchema describes one condition or config key.
type FieldSchema struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"` // "number", "integer", "boolean", "string", "weekdays"
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// VariableSchema describes a message template placeholder.
type VariableSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

var oncePerUserField = FieldSchema{Name: CondOncePerUser, Label: "Only once per user", Type: "boolean", Default: false}

// GetSchema returns the full trigger schema for the UI.
func GetSchema() Schema {
	return Schema{
		TriggerTypes: []TriggerTypeSchema{
			{
				Name: string(TriggerUserRegister), Label: "User registered",
				Source: "event", Event: string(EventUserRegister),
				Conditions: []FieldSchema{oncePerUserField},
			},
			{
				Name: string(TriggerFirstOrder), Label: "First order completed",
				Source: "event", Event: string(EventOrderCompleted),
				Conditions: []FieldSchema{oncePerUserField},
			},
			{
				Name: string(TriggerOrderAmount), Label: "Order amount reached",
				Source: "event", Event: string(EventOrderCompleted),
				Conditions: []FieldSchema{
					{Name: CondMinAmount, Label: "Minimum order amount", Type: "number", Default: 0},
					oncePerUserField,
				},
			},
			{
				Name: string(TriggerUserChurn), Label: "User inactive",
				Source: "scheduler",
				Conditions: []FieldSchema{
					{Name: CondInactiveDays, Label: "Days without an order", Type: "integer", Default: defaultInactiveDays},
					oncePerUserField,
				},
			},
			{
				Name: string(TriggerUserBirthday), Label: "Registration anniversary",
				Source: "scheduler",
				Conditions: []FieldSchema{oncePerUserField},
			},
			{
				Name: string(TriggerScheduledTime), Label: "Scheduled time",
				Source: "scheduler",
				Conditions: []FieldSchema{
					{Name: CondHour, Label: "Hour of day (0-23)", Type: "integer", Required: true},
					{Name: CondWeekdays, Label: "Weekdays (0 = Sunday)", Type: "weekdays"},
					oncePerUserField,
				},
			},
		},
		Actions: []ActionSchema{
			{
				Name: string(ActionSendCoupon), Label: "Send coupon", Costed: true,
				Fields: []FieldSchema{
					{Name: CfgCouponTemplateID, Label: "Coupon template", Type: "integer", Required: true},
					{Name: CfgTitle, Label: "Message title", Type: "string"},
					{Name: CfgMessage, Label: "Message", Type: "string"},
				},
			},
			{
				Name: string(ActionSendNotification), Label: "Send notification",
				Fields: []FieldSchema{
					{Name: CfgTitle, Label: "Title", Type: "string"},
					{Name: CfgMessage, Label: "Message", Type: "string", Required: true},
				},
			},
			{
				Name: string(ActionAddPoints), Label: "Add loyalty points",
				Fields: []FieldSchema{
					{Name: CfgPoints, Label: "Points", Type: "integer", Required: true},
					{Name: CfgTitle, Label: "Message title", Type: "string"},
					{Name: CfgMessage, Label: "Message", Type: "string"},
				},
			},
		},
		Variables: []VariableSchema{
			{Name: VarFirstName, Label: "User first name"},
			{Name: VarUserID, Label: "User ID"},
			{Name: VarTriggerName, Label: "Trigger name"},
			{Name: VarCouponID, Label: "Issued coupon ID"},
			{Name: VarCouponValue, Label: "Coupon face value"},
			{Name: VarPoints, Label: "Points credited"},
		},
	}
}
