// Command petshop is a terminal client for the pet-supply POS data core:
// company accounts, product catalog, sales and remote synchronization.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/umutcrkn/petshop/internal/cache"
	"github.com/umutcrkn/petshop/internal/config"
	"github.com/umutcrkn/petshop/internal/cryptokey"
	"github.com/umutcrkn/petshop/internal/errs"
	"github.com/umutcrkn/petshop/internal/model"
	"github.com/umutcrkn/petshop/internal/registry"
	"github.com/umutcrkn/petshop/internal/remote"
	"github.com/umutcrkn/petshop/internal/remote/github"
	"github.com/umutcrkn/petshop/internal/remote/proxy"
	"github.com/umutcrkn/petshop/internal/store"
)

const usage = `usage: petshop <command> [flags]

accounts:
  register        create a company account
  login           sign in with username/password
  admin           sign in as the reserved admin identity
  logout          clear the active session
  companies       list registered companies
  select          switch the active company by id
  change-password change the active company's password
  extend-trial    push a company's trial expiry forward
  reap            delete all companies with expired trials

catalog & sales:
  products        list the catalog
  add-product     add a product
  delete-product  remove a product by barcode
  sell            record a sale (decrements stock)
  sales           list recent sales grouped by day
  sync            merge-and-push local changes to the remote store
  export          print a backup snapshot of products and sales
`

// app bundles the wired services for one invocation.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *registry.Registry
	data     *store.Store
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	ctx := context.Background()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	switch command {
	case "register":
		return a.cmdRegister(ctx, args)
	case "login":
		return a.cmdLogin(ctx, args)
	case "admin":
		return a.cmdAdmin(args)
	case "logout":
		a.registry.Logout()
		fmt.Println("logged out")
		return nil
	case "companies":
		return a.cmdCompanies()
	case "select":
		return a.cmdSelect(ctx, args)
	case "change-password":
		return a.cmdChangePassword(ctx, args)
	case "extend-trial":
		return a.cmdExtendTrial(ctx, args)
	case "reap":
		return a.cmdReap(ctx)
	case "products":
		return a.cmdProducts(ctx)
	case "add-product":
		return a.cmdAddProduct(ctx, args)
	case "delete-product":
		return a.cmdDeleteProduct(ctx, args)
	case "sell":
		return a.cmdSell(ctx, args)
	case "sales":
		return a.cmdSales(ctx)
	case "sync":
		return a.cmdSync(ctx)
	case "export":
		return a.cmdExport(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.New(".", configDir())
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}

	var rs remote.Store
	if cfg.UseProxy() {
		rs = proxy.New(proxy.Config{
			BaseURL: cfg.Proxy.BaseURL,
			APIKey:  cfg.Proxy.APIKey,
			Timeout: cfg.HTTP.Timeout,
		})
	} else {
		rs = github.New(github.Config{
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Token:   cfg.GitHub.Token,
			Branch:  cfg.GitHub.Branch,
			Timeout: cfg.HTTP.Timeout,
		}, log)
	}

	retryPol := remote.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.Retry.Backoff}
	keys := cryptokey.NewProvider(rs, c, log)
	reg := registry.New(rs, c, keys, registry.Options{
		TrialDays:        cfg.Trial.Days,
		FallbackPassword: cfg.Admin.FallbackPassword,
		Retry:            retryPol,
	}, log)
	data := store.New(rs, c, store.Options{
		RetentionDays: cfg.Retention.Days,
		Retry:         retryPol,
	}, log)

	if warn, err := reg.Load(ctx); err != nil {
		return nil, err
	} else if warn != "" {
		fmt.Fprintln(os.Stderr, "warning:", warn)
	}

	return &app{cfg: cfg, log: log, registry: reg, data: data}, nil
}

// loadData scopes the data store to the active session and loads it.
func (a *app) loadData(ctx context.Context) error {
	scope := store.Scope{}
	switch {
	case a.registry.IsAdmin():
		scope.Admin = true
	case a.registry.Current() != nil:
		scope.CompanyID = a.registry.Current().ID
	default:
		return errors.New("no active company (login or register first)")
	}
	a.data.SetScope(scope)
	warn, err := a.data.Load(ctx)
	if err != nil {
		return err
	}
	if warn != "" {
		fmt.Fprintln(os.Stderr, "warning:", warn)
	}
	return nil
}

func (a *app) cmdRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "company name")
	username := fs.String("username", "", "login username")
	password := fs.String("password", "", "login password")
	_ = fs.Parse(args)

	c, err := a.registry.Register(ctx, *name, *username, *password)
	if err != nil {
		if c.ID == "" {
			return err
		}
		// partial success: the account exists, its data files are pending
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	fmt.Printf("registered %s (id %s), trial until %s\n", c.Name, c.ID, c.TrialExpiresAt.Format("2006-01-02"))
	return nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "login username")
	password := fs.String("password", "", "login password")
	_ = fs.Parse(args)

	c, err := a.registry.Login(ctx, *username, *password)
	if err != nil {
		if errors.Is(err, errs.ErrTrialExpired) {
			return fmt.Errorf("trial expired for %s; ask for an extension", *username)
		}
		return err
	}
	fmt.Printf("welcome, %s\n", c.Name)
	return nil
}

func (a *app) cmdAdmin(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	password := fs.String("password", "", "admin password")
	_ = fs.Parse(args)

	if err := a.registry.LoginAdmin(*password); err != nil {
		return err
	}
	fmt.Println("admin session active")
	return nil
}

func (a *app) cmdCompanies() error {
	companies := a.registry.Companies()
	if len(companies) == 0 {
		fmt.Println("no companies registered")
		return nil
	}
	for _, c := range companies {
		marker := " "
		if cur := a.registry.Current(); cur != nil && cur.ID == c.ID {
			marker = "*"
		}
		fmt.Printf("%s %-20s %-15s trial until %s\n", marker, c.Name, c.Username, c.TrialExpiresAt.Format("2006-01-02"))
	}
	return nil
}

func (a *app) cmdSelect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	id := fs.String("id", "", "company id")
	_ = fs.Parse(args)

	c, err := a.registry.SelectCompany(*id)
	if err != nil {
		return err
	}
	if err := a.loadData(ctx); err != nil {
		return err
	}
	fmt.Printf("active company: %s\n", c.Name)
	return nil
}

func (a *app) cmdChangePassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("change-password", flag.ExitOnError)
	current := fs.String("current", "", "current password")
	next := fs.String("new", "", "new password")
	_ = fs.Parse(args)

	if err := a.registry.ChangePassword(ctx, *current, *next); err != nil {
		return err
	}
	fmt.Println("password changed")
	return nil
}

func (a *app) cmdExtendTrial(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extend-trial", flag.ExitOnError)
	id := fs.String("id", "", "company id")
	days := fs.Int("days", 10, "days to add")
	_ = fs.Parse(args)

	c, err := a.registry.ExtendTrial(ctx, *id, *days)
	if err != nil {
		return err
	}
	fmt.Printf("trial for %s now ends %s\n", c.Name, c.TrialExpiresAt.Format("2006-01-02"))
	return nil
}

func (a *app) cmdReap(ctx context.Context) error {
	reaped, err := a.registry.ReapExpiredTrials(ctx)
	fmt.Printf("deleted %d expired compan(ies)\n", reaped)
	return err
}

func (a *app) cmdProducts(ctx context.Context) error {
	if err := a.loadData(ctx); err != nil {
		return err
	}
	products := a.data.Products()
	if len(products) == 0 {
		fmt.Println("catalog is empty")
		return nil
	}
	for _, p := range products {
		fmt.Printf("%-20s %-15s %8.2f  stock %4d\n", p.Name, p.Barcode, p.Price, p.Stock)
	}
	return nil
}

func (a *app) cmdAddProduct(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-product", flag.ExitOnError)
	name := fs.String("name", "", "product name")
	desc := fs.String("desc", "", "description")
	price := fs.Float64("price", 0, "unit price")
	barcode := fs.String("barcode", "", "barcode")
	stock := fs.Int("stock", 0, "initial stock")
	_ = fs.Parse(args)

	if err := a.loadData(ctx); err != nil {
		return err
	}
	// barcode uniqueness lives here, at the action layer
	if a.data.FindByBarcode(*barcode) != nil {
		return fmt.Errorf("barcode %s already in the catalog", *barcode)
	}
	p := model.NewProduct(*name, *desc, *price, *barcode, *stock)
	if err := a.data.AddProduct(p); err != nil {
		return err
	}
	if err := a.data.Sync(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "warning: saved locally, remote sync failed:", err)
	}
	fmt.Printf("added %s (%s)\n", p.Name, p.Barcode)
	return nil
}

func (a *app) cmdDeleteProduct(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete-product", flag.ExitOnError)
	barcode := fs.String("barcode", "", "barcode")
	_ = fs.Parse(args)

	if err := a.loadData(ctx); err != nil {
		return err
	}
	p := a.data.FindByBarcode(*barcode)
	if p == nil {
		return fmt.Errorf("barcode %s: %w", *barcode, errs.ErrNotFound)
	}
	if err := a.data.DeleteProduct(p.ID); err != nil {
		return err
	}
	if err := a.data.Sync(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "warning: removed locally, remote sync failed:", err)
	}
	fmt.Printf("deleted %s\n", p.Name)
	return nil
}

func (a *app) cmdSell(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sell", flag.ExitOnError)
	barcode := fs.String("barcode", "", "barcode")
	qty := fs.Int("qty", 1, "quantity")
	_ = fs.Parse(args)

	if err := a.loadData(ctx); err != nil {
		return err
	}
	sale, err := a.data.RecordSale([]store.SaleLine{{Barcode: *barcode, Quantity: *qty}})
	if err != nil {
		return err
	}
	if err := a.data.Sync(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "warning: recorded locally, remote sync failed:", err)
	}
	fmt.Printf("sale %s: total %.2f\n", sale.ID, sale.TotalAmount)
	return nil
}

func (a *app) cmdSales(ctx context.Context) error {
	if err := a.loadData(ctx); err != nil {
		return err
	}
	grouped := a.data.SalesGroupedByDay()
	if len(grouped) == 0 {
		fmt.Println("no recent sales")
		return nil
	}
	days := make([]time.Time, 0, len(grouped))
	for day := range grouped {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	for _, day := range days {
		fmt.Println(day.Format("2006-01-02"))
		for _, s := range grouped[day] {
			fmt.Printf("  %s  %8.2f  (%d items)\n", s.Date.Format("15:04"), s.TotalAmount, len(s.Items))
		}
	}
	return nil
}

func (a *app) cmdSync(ctx context.Context) error {
	if err := a.loadData(ctx); err != nil {
		return err
	}
	if err := a.data.Sync(ctx); err != nil {
		return err
	}
	fmt.Println("synchronized")
	return nil
}

func (a *app) cmdExport(ctx context.Context) error {
	if err := a.loadData(ctx); err != nil {
		return err
	}
	blob, err := a.data.ExportSnapshot()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(blob, '\n'))
	return err
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Pretty {
		zcfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg.Level = lvl
	// the CLI owns stdout; logs go to stderr only
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func configDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v + "/petshop"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.config/petshop"
}
