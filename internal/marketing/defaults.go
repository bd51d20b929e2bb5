package marketing

import (
	"gorm.io/datatypes"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
)

// DefaultTriggers returns the built-in triggers that ship with the storefront.
// They are seeded inactive: coupon templates and budgets differ per shop, so
// an operator has to review and enable them.
func DefaultTriggers() []entities.Trigger {
	return []entities.Trigger{
		{
			Name:        "Welcome coupon",
			Description: "Sends a coupon to every newly registered user",
			TriggerType: string(TriggerUserRegister),
			Conditions:  datatypes.JSONMap{CondOncePerUser: true},
			Action:      string(ActionSendCoupon),
			ActionConfig: datatypes.JSONMap{
				CfgCouponTemplateID: 1,
				CfgMessage:          "Welcome, {{first_name}}! Here is {{coupon_value}} off your first tea.",
			},
			GroupTag: "onboarding",
			BuiltIn:  true,
		},
		{
			Name:        "First order points",
			Description: "Credits loyalty points after a user's first completed order",
			TriggerType: string(TriggerFirstOrder),
			Conditions:  datatypes.JSONMap{CondOncePerUser: true},
			Action:      string(ActionAddPoints),
			ActionConfig: datatypes.JSONMap{
				CfgPoints:  100,
				CfgMessage: "Thanks for your first order! {{points}} points were added to your account.",
			},
			GroupTag: "onboarding",
			BuiltIn:  true,
		},
		{
			Name:        "Big order bonus",
			Description: "Credits bonus points for completed orders of 200 or more",
			TriggerType: string(TriggerOrderAmount),
			Conditions:  datatypes.JSONMap{CondMinAmount: 200},
			Action:      string(ActionAddPoints),
			ActionConfig: datatypes.JSONMap{
				CfgPoints: 50,
			},
			GroupTag: "loyalty",
			BuiltIn:  true,
		},
		{
			Name:        "Win back inactive users",
			Description: "Sends a coupon to users with no order in the last 30 days",
			TriggerType: string(TriggerUserChurn),
			Conditions:  datatypes.JSONMap{CondInactiveDays: 30, CondOncePerUser: true},
			Action:      string(ActionSendCoupon),
			ActionConfig: datatypes.JSONMap{
				CfgCouponTemplateID: 2,
				CfgMessage:          "We miss you, {{first_name}}. Come back for {{coupon_value}} off.",
			},
			GroupTag: "retention",
			BuiltIn:  true,
		},
		{
			Name:        "Registration anniversary",
			Description: "Congratulates users on the anniversary of their registration",
			TriggerType: string(TriggerUserBirthday),
			Action:      string(ActionSendNotification),
			ActionConfig: datatypes.JSONMap{
				CfgTitle:   "Happy anniversary!",
				CfgMessage: "{{first_name}}, it has been another year of tea with us. Thank you!",
			},
			GroupTag: "retention",
			BuiltIn:  true,
		},
		{
			Name:        "Weekend tea hour",
			Description: "Friday and Saturday evening reminder to every user",
			TriggerType: string(TriggerScheduledTime),
			Conditions:  datatypes.JSONMap{CondHour: 18, CondWeekdays: []any{5, 6}},
			Action:      string(ActionSendNotification),
			ActionConfig: datatypes.JSONMap{
				CfgTitle:   "Tea hour",
				CfgMessage: "The kettle is on. New arrivals are waiting in the shop.",
			},
			GroupTag: "campaigns",
			BuiltIn:  true,
		},
	}
}
