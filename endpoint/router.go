package endpoint

import (
	"fmt"
	"net/http"

	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RouterOptions toggles the optional middleware.
type RouterOptions struct {
	AppName          string
	LogEndpointCalls bool
	// AuthRateLimit guards signup and login. Zero values use the middleware defaults.
	AuthRateLimit middleware.RateLimitConfig
}

// NewRouter wires every route onto a gin engine.
func NewRouter(db *gorm.DB, svc *middleware.Services, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.DatabaseMiddleware(db))
	r.Use(middleware.ServicesMiddleware(svc))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Welcome to %s!", opts.AppName)})
	})
	r.GET("/metrics", middleware.MetricsHandler())

	limited := middleware.RateLimiter(opts.AuthRateLimit)
	r.POST("/signup", limited, Signup)
	r.POST("/login", limited, Login)

	auth := r.Group("/")
	auth.Use(middleware.ValidateLoginToken())
	if opts.LogEndpointCalls {
		auth.Use(middleware.EndpointCallLogger())
	}
	{
		auth.DELETE("/logout", Logout)
		auth.GET("/token/validate", ValidateToken)
		auth.POST("/token/refresh", RefreshToken)
		auth.POST("/change-password", ChangePassword)
		auth.POST("/verify-password", VerifyPassword)
		auth.GET("/profile", GetProfile)
		auth.PATCH("/profile", UpdateProfile)

		auth.GET("/dashboard", middleware.RequirePermission(permission.ViewDashboard), Dashboard)

		view := middleware.RequirePermission(permission.ViewReports)
		create := middleware.RequirePermission(permission.CreateReports)
		edit := middleware.RequirePermission(permission.CreateReports, permission.EditReports)
		remove := middleware.RequirePermission(permission.DeleteReports)
		moderate := middleware.RequirePermission(permission.ApproveReports, permission.Dispatch, permission.Respond)

		vehicles := auth.Group("/alerts/vehicles")
		{
			vehicles.GET("", view, ListVehicleAlerts)
			vehicles.POST("", create, CreateVehicleAlert)
			vehicles.GET("/:id", view, GetVehicleAlert)
			vehicles.GET("/:id/share", view, ShareVehicleAlert)
			vehicles.PATCH("/:id", edit, UpdateVehicleAlert)
			vehicles.DELETE("/:id", remove, DeleteVehicleAlert)
			vehicles.PATCH("/:id/status", moderate, UpdateVehicleAlertStatus)
		}

		crimes := auth.Group("/reports/crime")
		{
			crimes.GET("", view, ListCrimeReports)
			crimes.POST("", create, CreateCrimeReport)
			crimes.GET("/:id", view, GetCrimeReport)
			crimes.PATCH("/:id", edit, UpdateCrimeReport)
			crimes.DELETE("/:id", remove, DeleteCrimeReport)
			crimes.PATCH("/:id/status", moderate, UpdateCrimeReportStatus)
		}

		admin := auth.Group("/admin")
		{
			users := admin.Group("/users")
			users.Use(middleware.RequirePermission(permission.ManageUsers))
			{
				users.GET("", ListUsers)
				users.GET("/:id", GetUserInfo)
				users.PATCH("/:id/role", UpdateUserRole)
				users.PATCH("/:id/status", UpdateUserStatus)
				users.PATCH("/:id/company", middleware.RequirePermission(permission.ManageCompanies), UpdateUserCompany)
				users.DELETE("/:id", DeleteUser)
			}

			admin.GET("/logs", middleware.RequirePermission(permission.ViewLogs), ListUserLogs)
			admin.GET("/online-users", middleware.RequirePermission(permission.ManageUsers), ListOnlineUsers)

			companies := admin.Group("/companies")
			{
				companies.GET("", middleware.RequirePermission(permission.ManageUsers, permission.ManageCompanies), ListCompanies)
				manage := middleware.RequirePermission(permission.ManageCompanies)
				companies.POST("", manage, CreateCompany)
				companies.PATCH("/:id", manage, UpdateCompany)
				companies.DELETE("/:id", manage, DeleteCompany)
				companies.POST("/:id/logo", manage, UploadCompanyLogo)
			}
		}
	}

	return r
}
